package joblauncher

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
)

// JobLauncher は Job を JobParameters とともに起動するためのインターフェースです。
// Spring Batch の JobLauncher に相当します。
type JobLauncher interface {
	// Launch は指定された Job を JobParameters とともに起動し、起動された JobExecution を返します。
	// ステップの失敗は JobExecution の Status と Failures で表され、エラーとしては返されません。
	// 返されるエラーは、起動の拒否 (完了済み、実行中など) とリポジトリの障害です。
	Launch(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error)
	// Stop は実行中の JobExecution にキャンセルを通知します。実行中のステップは中断されず、次のステップの前で停止します。
	Stop(executionID string) error
}

// JobProvider はジョブ名から core.Job を取得します。factory.JobFactory が実装します。
type JobProvider interface {
	CreateJob(jobName string) (core.Job, error)
}
