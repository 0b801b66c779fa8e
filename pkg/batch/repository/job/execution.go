package job

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

// JobExecution は JobExecution の永続化と取得に関する操作を定義します。
type JobExecution interface {
	// SaveJobExecution は新しい JobExecution を永続化します。Parameters はこの時点の内容で保存されます。
	SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// UpdateJobExecution は既存の JobExecution の状態を更新します。
	// 状態、終了ステータス、時刻、エラー、ExecutionContext だけが更新され、Parameters は変更されません。
	UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// FindJobExecutionByID は指定された ID の JobExecution を、関連する StepExecution とともに返します。
	FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error)

	// FindLatestJobExecution は指定された JobInstance の最新の JobExecution を検索します。
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error)

	// FindJobExecutionsByJobInstance は指定された JobInstance の全ての JobExecution を作成順 (古い順) に返します。
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error)

	// FindRunningJobExecutions は指定されたジョブ名で実行中の JobExecution を返します。
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*core.JobExecution, error)
}
