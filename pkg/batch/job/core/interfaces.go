package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

// Job は実行可能なバッチジョブのインターフェースです。
type Job interface {
	// Run はジョブのステップを順番に実行し、結果を jobExecution に反映します。
	Run(ctx context.Context, jobExecution *JobExecution) error
	JobName() string
	// IsRestartable が false のジョブは、失敗した JobInstance を再起動できません。
	IsRestartable() bool
	ValidateParameters(params JobParameters) error
	// JobParametersIncrementer は次の JobInstance 用のパラメータを作るインクリメンタを返します。nil の場合もあります。
	JobParametersIncrementer() JobParametersIncrementer
}

// Step はジョブ内で実行される単一のステップのインターフェースです。
type Step interface {
	Execute(ctx context.Context, jobExecution *JobExecution, stepExecution *StepExecution) error
	StepName() string
	// AllowStartIfComplete が true のステップは、前回の実行で COMPLETED になっていても再実行されます。
	AllowStartIfComplete() bool
}

// Tasklet は単一の操作を実行するステップの処理本体です。
type Tasklet interface {
	// Execute は Tasklet のビジネスロジックを実行します。
	// ctx にはステップのトランザクションが含まれます。
	// 処理が成功した場合は COMPLETED などの ExitStatus を返し、失敗した場合はエラーを返します。
	Execute(ctx context.Context, contribution *StepContribution) (ExitStatus, error)
}

// StepExecutionListener はステップ実行イベントを処理するためのインターフェースです。
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *StepExecution)
	AfterStep(ctx context.Context, stepExecution *StepExecution)
}

// JobExecutionListener はジョブ実行イベントを処理するためのインターフェースです。
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *JobExecution)
	AfterJob(ctx context.Context, jobExecution *JobExecution)
}

// JobParametersIncrementer は JobParameters を自動的にインクリメントするためのインターフェースです。
type JobParametersIncrementer interface {
	GetNext(params JobParameters) (JobParameters, error)
}

// JobParametersValidator は起動前に JobParameters を検証します。
type JobParametersValidator interface {
	Validate(params JobParameters) error
}

// DefaultJobParametersValidator は必須キーの有無と、許可されていないキーを検証します。
// OptionalKeys が空の場合、RequiredKeys 以外のキーも許可されます。
type DefaultJobParametersValidator struct {
	RequiredKeys []string
	OptionalKeys []string
}

// NewDefaultJobParametersValidator は DefaultJobParametersValidator を作成します。
func NewDefaultJobParametersValidator(required, optional []string) *DefaultJobParametersValidator {
	return &DefaultJobParametersValidator{RequiredKeys: required, OptionalKeys: optional}
}

// Validate は JobParametersValidator インターフェースを実装します。
func (v *DefaultJobParametersValidator) Validate(params JobParameters) error {
	var missing []string
	for _, k := range v.RequiredKeys {
		if !params.Contains(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: 必須パラメータがありません: [%s]", exception.ErrInvalidJobParameters, strings.Join(missing, ", "))
	}
	if len(v.OptionalKeys) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(v.RequiredKeys)+len(v.OptionalKeys))
	for _, k := range v.RequiredKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range v.OptionalKeys {
		allowed[k] = struct{}{}
	}
	var unknown []string
	for _, k := range params.Names() {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: 許可されていないパラメータがあります: [%s]", exception.ErrInvalidJobParameters, strings.Join(unknown, ", "))
	}
	return nil
}
