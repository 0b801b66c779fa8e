package step

import (
	"context"
	"errors"
	"fmt"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/tx"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// TaskletFunc は関数を core.Tasklet として扱うためのアダプタです。
type TaskletFunc func(ctx context.Context, contribution *core.StepContribution) (core.ExitStatus, error)

// Execute は core.Tasklet インターフェースを実装します。
func (f TaskletFunc) Execute(ctx context.Context, contribution *core.StepContribution) (core.ExitStatus, error) {
	return f(ctx, contribution)
}

// TaskletStep は Tasklet をトランザクション内で 1 回実行する core.Step の実装です。
// Tasklet が成功した場合は StepContribution を反映してコミットし、失敗した場合はロールバックします。
type TaskletStep struct {
	name                 string
	tasklet              core.Tasklet
	stepListeners        []core.StepExecutionListener
	jobRepository        job.JobRepository
	allowStartIfComplete bool
}

// TaskletStep が core.Step インターフェースを満たすことを確認します。
var _ core.Step = (*TaskletStep)(nil)

// NewTaskletStep は新しい TaskletStep のインスタンスを作成します。
func NewTaskletStep(
	name string,
	tasklet core.Tasklet,
	jobRepository job.JobRepository,
	stepListeners []core.StepExecutionListener,
) *TaskletStep {
	return &TaskletStep{
		name:          name,
		tasklet:       tasklet,
		jobRepository: jobRepository,
		stepListeners: stepListeners,
	}
}

// WithAllowStartIfComplete は前回 COMPLETED になったステップをリスタート時にも実行するかどうかを設定します。
func (s *TaskletStep) WithAllowStartIfComplete(allow bool) *TaskletStep {
	s.allowStartIfComplete = allow
	return s
}

// StepName はステップ名を返します。core.Step インターフェースの実装です。
func (s *TaskletStep) StepName() string {
	return s.name
}

// AllowStartIfComplete は core.Step インターフェースの実装です。
func (s *TaskletStep) AllowStartIfComplete() bool {
	return s.allowStartIfComplete
}

func (s *TaskletStep) notifyBeforeStep(ctx context.Context, stepExecution *core.StepExecution) {
	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterStep(ctx context.Context, stepExecution *core.StepExecution) {
	for _, l := range s.stepListeners {
		l.AfterStep(ctx, stepExecution)
	}
}

// runTasklet は Tasklet を実行します。Tasklet 内の panic はエラーとして返します。
func (s *TaskletStep) runTasklet(ctx context.Context, contribution *core.StepContribution) (status core.ExitStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Taskletステップ '%s': Tasklet で panic が発生しました: %v", s.name, r)
			status = core.ExitStatusFailed
			err = exception.NewBatchErrorf(s.name, "Tasklet で panic が発生しました: %v", r)
		}
	}()
	return s.tasklet.Execute(ctx, contribution)
}

// Execute は TaskletStep の処理を実行します。core.Step インターフェースの実装です。
// stepExecution は呼び出し側で保存済みであることを前提とします。
func (s *TaskletStep) Execute(ctx context.Context, jobExecution *core.JobExecution, stepExecution *core.StepExecution) error {
	logger.Infof("Taskletステップ '%s' (JobExecution ID: %s, StepExecution ID: %s) を開始します。", s.name, jobExecution.ID, stepExecution.ID)

	stepExecution.MarkAsStarted()
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Taskletステップ '%s': StepExecution の更新に失敗しました: %v", s.name, err)
		return exception.NewBatchError(s.name, "StepExecution の開始状態の保存に失敗しました", err, exception.IsTemporary(err), false)
	}

	s.notifyBeforeStep(ctx, stepExecution)
	defer s.notifyAfterStep(ctx, stepExecution)

	workErr := s.executeInTransaction(ctx, stepExecution)
	if workErr == nil {
		if stepExecution.Status == core.BatchStatusCompleted {
			logger.Infof("Taskletステップ '%s' が完了しました。ExitStatus: %s", s.name, stepExecution.ExitStatus)
			return nil
		}
		// 非 COMPLETED の ExitStatus はコミット済み
		logger.Warnf("Taskletステップ '%s' は ExitStatus %s で終了しました。", s.name, stepExecution.ExitStatus)
		return exception.NewStepFailedError(s.name, stepExecution.ID, stepExecution.Failures[len(stepExecution.Failures)-1])
	}

	logger.Errorf("Taskletステップ '%s' の実行中にエラーが発生しました: %v", s.name, workErr)
	stepExecution.RollbackCount++
	stepExecution.MarkAsFailed(workErr)
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("Taskletステップ '%s': 失敗状態の StepExecution の保存に失敗しました: %v", s.name, err)
		return exception.NewStepFailedError(s.name, stepExecution.ID, errors.Join(workErr, err))
	}
	return exception.NewStepFailedError(s.name, stepExecution.ID, workErr)
}

// executeInTransaction は 1 回のトランザクションで Tasklet を実行し、結果を StepExecution に反映してコミットします。
// エラーを返した場合、トランザクションはロールバック済みで stepExecution は実行前の状態に戻っています。
func (s *TaskletStep) executeInTransaction(ctx context.Context, stepExecution *core.StepExecution) error {
	txCtx, trx, err := s.jobRepository.Begin(ctx)
	if err != nil {
		return err
	}

	contribution := core.NewStepContribution(stepExecution)
	exitStatus, err := s.runTasklet(txCtx, contribution)
	if err != nil {
		rollback(s.name, trx)
		return err
	}

	before := stepExecution.Clone()
	stepExecution.Apply(contribution)
	stepExecution.CommitCount++
	switch exitStatus {
	case core.ExitStatusCompleted, core.ExitStatusNoOp:
		stepExecution.MarkAsCompleted()
		stepExecution.ExitStatus = exitStatus
	default:
		stepExecution.MarkAsFailed(fmt.Errorf("tasklet returned exit status %s", exitStatus))
		stepExecution.ExitStatus = exitStatus
	}

	if err := s.jobRepository.UpdateStepExecution(txCtx, stepExecution); err != nil {
		*stepExecution = *before
		rollback(s.name, trx)
		return err
	}
	if err := trx.Commit(); err != nil {
		*stepExecution = *before
		return err
	}
	return nil
}

func rollback(stepName string, trx tx.Transaction) {
	if err := trx.Rollback(); err != nil && !errors.Is(err, tx.ErrTransactionClosed) {
		logger.Warnf("Taskletステップ '%s': ロールバックに失敗しました: %v", stepName, err)
	}
}
