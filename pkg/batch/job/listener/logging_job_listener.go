package listener

import (
	"context"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// LoggingJobListener はジョブの開始と終了をログに出力する core.JobExecutionListener です。
type LoggingJobListener struct{}

var _ core.JobExecutionListener = (*LoggingJobListener)(nil)

// NewLoggingJobListener は新しい LoggingJobListener を作成します。
func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *core.JobExecution) {
	logger.Infof("Job '%s' (Execution ID: %s) の実行を開始します。Parameters: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.Parameters)
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *core.JobExecution) {
	if jobExecution.Status == core.BatchStatusFailed {
		logger.Errorf("Job '%s' (Execution ID: %s) がエラーで終了しました: %v",
			jobExecution.JobName, jobExecution.ID, jobExecution.Failures)
		return
	}
	logger.Infof("Job '%s' (Execution ID: %s) が終了しました。Status: %s, ExitStatus: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
}
