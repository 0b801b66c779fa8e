package job

import (
	"io"

	"github.com/tigerroll/jobrestart/example/restart/step/tasklet"
	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	joblistener "github.com/tigerroll/jobrestart/pkg/batch/job/listener"
	"github.com/tigerroll/jobrestart/pkg/batch/job/runner"
	repository "github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/step"
	steplistener "github.com/tigerroll/jobrestart/pkg/batch/step/listener"
)

const (
	// JobName は example で登録するジョブ名です。
	JobName = "job"
	// StepName はジョブが持つ唯一のステップ名です。
	StepName = "step"
)

// NewRestartJob は失敗し続けるステップを 1 つだけ持つジョブを作成します。
func NewRestartJob(jobRepository repository.JobRepository, cfg *config.Config, out io.Writer) core.Job {
	failingStep := step.NewTaskletStep(StepName, tasklet.NewFailingTasklet(out), jobRepository,
		[]core.StepExecutionListener{steplistener.NewLoggingStepListener()})

	return runner.NewSimpleJob(JobName, jobRepository, []core.Step{failingStep},
		[]core.JobExecutionListener{joblistener.NewLoggingJobListener()})
}
