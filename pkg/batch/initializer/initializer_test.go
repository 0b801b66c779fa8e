package initializer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/initializer"
	"github.com/tigerroll/jobrestart/pkg/batch/job/runner"
	"github.com/tigerroll/jobrestart/pkg/batch/repository"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/step"
)

const memoryYAML = `
database:
  type: memory
batch:
  job_name: job
  restart:
    allow_restart_completed: true
system:
  logging:
    level: WARN
`

func TestInitialize_MemoryRepository(t *testing.T) {
	ctx := context.Background()
	bi := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: []byte(memoryYAML)})

	launcher, operator, err := bi.Initialize(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, bi.Close()) })

	assert.Equal(t, "job", bi.Config.Batch.JobName)
	assert.IsType(t, &repository.MemoryJobRepository{}, bi.JobRepository)
	require.NotNil(t, bi.JobFactory)

	bi.JobFactory.RegisterJobBuilder("job", func(repo job.JobRepository, cfg *config.Config) (core.Job, error) {
		work := step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
			return core.ExitStatusCompleted, nil
		})
		return runner.NewSimpleJob("job", repo, []core.Step{step.NewTaskletStep("step", work, repo, nil)}, nil), nil
	})

	params, err := core.NewJobParametersBuilder().AddLong("id", 1, true).ToJobParameters()
	require.NoError(t, err)

	first, err := launcher.Launch(ctx, "job", params)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, first.Status)

	// allow_restart_completed が有効なので COMPLETED の JobInstance も再実行できる
	second, err := launcher.Launch(ctx, "job", params)
	require.NoError(t, err)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)

	names, err := operator.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, names)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	bi := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: []byte("database: [")})
	_, _, err := bi.Initialize(context.Background())
	assert.Error(t, err)
	assert.NoError(t, bi.Close())
}

func TestInitialize_UnknownTimezone(t *testing.T) {
	bi := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: []byte("system:\n  timezone: Nowhere/Unknown\n")})
	_, _, err := bi.Initialize(context.Background())
	assert.Error(t, err)
	assert.Nil(t, bi.JobRepository)
}
