package job

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

// StepExecution は StepExecution の永続化と取得に関する操作を定義します。
type StepExecution interface {
	// SaveStepExecution は新しい StepExecution を永続化します。
	SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// UpdateStepExecution は既存の StepExecution の状態を更新します。
	UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// FindStepExecutionByID は指定された ID の StepExecution を検索します。
	FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error)

	// FindStepExecutionsByJobExecutionID は指定された JobExecution の全ての StepExecution を作成順に返します。
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error)

	// FindLastStepExecution は JobInstance の全 JobExecution の中で、指定されたステップの最新の StepExecution を返します。
	// 見つからない場合は exception.ErrStepExecutionNotFound を返します。
	FindLastStepExecution(ctx context.Context, jobInstanceID, stepName string) (*core.StepExecution, error)
}
