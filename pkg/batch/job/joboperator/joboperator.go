package joboperator

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

// JobOperator はバッチ実行の管理操作を行うためのインターフェースです。
// JSR352 の JobOperator に相当します。
type JobOperator interface {
	// Start は指定されたジョブを JobParameters とともに起動します。
	Start(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error)

	// StartNextInstance はジョブの JobParametersIncrementer で次のパラメータを作り、新しい JobInstance を起動します。
	StartNextInstance(ctx context.Context, jobName string) (*core.JobExecution, error)

	// Restart は指定された JobExecution を、その JobExecution に保存されたパラメータで再実行します。
	Restart(ctx context.Context, executionID string) (*core.JobExecution, error)

	// Stop は指定された JobExecution を停止します。
	Stop(ctx context.Context, executionID string) error

	// Abandon は指定された JobExecution を放棄します。放棄された JobInstance は再起動できません。
	Abandon(ctx context.Context, executionID string) error

	// GetJobExecution は指定された ID の JobExecution を取得します。
	GetJobExecution(ctx context.Context, executionID string) (*core.JobExecution, error)

	// GetJobExecutions は指定された JobInstance に関連する全ての JobExecution を作成順に取得します。
	GetJobExecutions(ctx context.Context, instanceID string) ([]*core.JobExecution, error)

	// GetLastJobExecution は指定された JobInstance の最新の JobExecution を取得します。
	GetLastJobExecution(ctx context.Context, instanceID string) (*core.JobExecution, error)

	// GetJobInstance は指定された ID の JobInstance を取得します。
	GetJobInstance(ctx context.Context, instanceID string) (*core.JobInstance, error)

	// FindJobInstance はジョブ名と識別パラメータに一致する JobInstance を検索します。
	FindJobInstance(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error)

	// GetJobNames は登録されている全てのジョブ名を取得します。
	GetJobNames(ctx context.Context) ([]string, error)

	// GetParameters は指定された JobExecution に保存された JobParameters を取得します。
	GetParameters(ctx context.Context, executionID string) (core.JobParameters, error)
}
