package listener

import (
	"context"
	"time"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// LoggingStepListener はステップの開始と終了をログに出力する core.StepExecutionListener です。
type LoggingStepListener struct{}

var _ core.StepExecutionListener = (*LoggingStepListener)(nil)

// NewLoggingStepListener は新しい LoggingStepListener を作成します。
func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Infof("ステップ '%s' (Execution ID: %s) を開始します。", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *core.StepExecution) {
	var elapsed time.Duration
	if !stepExecution.StartTime.IsZero() && !stepExecution.EndTime.IsZero() {
		elapsed = stepExecution.EndTime.Sub(stepExecution.StartTime)
	}
	if stepExecution.Status == core.BatchStatusFailed {
		logger.Errorf("ステップ '%s' (Execution ID: %s) が失敗しました。ExitStatus: %s, Rollback: %d, Failures: %v",
			stepExecution.StepName, stepExecution.ID, stepExecution.ExitStatus, stepExecution.RollbackCount, stepExecution.Failures)
		return
	}
	logger.Infof("ステップ '%s' (Execution ID: %s) が終了しました。Status: %s, Read: %d, Write: %d, Commit: %d, 経過時間: %s",
		stepExecution.StepName, stepExecution.ID, stepExecution.Status,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount, elapsed)
}
