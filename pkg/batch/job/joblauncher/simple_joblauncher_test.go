package joblauncher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/jobrestart/pkg/batch/config"
	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/job/factory"
	"github.com/tigerroll/jobrestart/pkg/batch/job/joblauncher"
	"github.com/tigerroll/jobrestart/pkg/batch/job/runner"
	"github.com/tigerroll/jobrestart/pkg/batch/repository"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/step"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

type fixture struct {
	repo     *repository.MemoryJobRepository
	factory  *factory.JobFactory
	failing  atomic.Bool
	executed atomic.Int32
}

func newFixture(t *testing.T, work step.TaskletFunc, configure func(*runner.SimpleJob)) *fixture {
	t.Helper()
	f := &fixture{repo: repository.NewMemoryJobRepository()}
	f.factory = factory.NewJobFactory(config.NewConfig(), f.repo)
	if work == nil {
		work = func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
			f.executed.Add(1)
			if f.failing.Load() {
				return core.ExitStatusFailed, errors.New("step failed on purpose")
			}
			return core.ExitStatusCompleted, nil
		}
	}
	f.factory.RegisterJobBuilder("job", func(r job.JobRepository, cfg *config.Config) (core.Job, error) {
		j := runner.NewSimpleJob("job", r, []core.Step{step.NewTaskletStep("step", work, r, nil)}, nil)
		if configure != nil {
			configure(j)
		}
		return j, nil
	})
	return f
}

func params(t *testing.T, nonIdentifying string) core.JobParameters {
	t.Helper()
	p, err := core.NewJobParametersBuilder().
		AddLong("id", 1, true).
		AddString("exampleNonIdentifying", nonIdentifying, false).
		ToJobParameters()
	require.NoError(t, err)
	return p
}

func TestLaunch_RestartStoresNewParameters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.failing.Store(true)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	first, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, first.Status)
	assert.NotEmpty(t, first.Failures)

	second, err := l.Launch(ctx, "job", params(t, "second"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, second.Status)

	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
	assert.NotEqual(t, first.ID, second.ID)

	inst, err := f.repo.FindJobInstanceByID(ctx, first.JobInstanceID)
	require.NoError(t, err)
	executions, err := f.repo.FindJobExecutionsByJobInstance(ctx, inst)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	v, _ := executions[0].Parameters.GetString("exampleNonIdentifying")
	assert.Equal(t, "first", v)
	v, _ = executions[1].Parameters.GetString("exampleNonIdentifying")
	assert.Equal(t, "second", v)
	assert.Equal(t, "{id=1(LONG,identifying), exampleNonIdentifying=second(STRING,non-identifying)}", executions[1].Parameters.String())

	n, err := f.repo.GetJobInstanceCount(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLaunch_FailThenSucceed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.failing.Store(true)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	first, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, first.Status)

	f.failing.Store(false)
	second, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, second.Status)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)

	stored, err := f.repo.FindJobExecutionByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, stored.Status)
	assert.False(t, stored.EndTime.IsZero())
}

func TestLaunch_CompletedInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)
	first, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	require.Equal(t, core.BatchStatusCompleted, first.Status)

	_, err = l.Launch(ctx, "job", params(t, "second"))
	assert.ErrorIs(t, err, exception.ErrJobInstanceAlreadyComplete)

	forced := joblauncher.NewSimpleJobLauncher(f.repo, f.factory, joblauncher.WithAllowRestartOfCompleted(true))
	again, err := forced.Launch(ctx, "job", params(t, "second"))
	require.NoError(t, err)
	assert.Equal(t, first.JobInstanceID, again.JobInstanceID)
	assert.Equal(t, core.BatchStatusCompleted, again.Status)
	assert.Equal(t, int32(2), f.executed.Load())
}

func TestLaunch_DifferentIdentifyingCreatesNewInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	first, err := l.Launch(ctx, "job", params(t, "x"))
	require.NoError(t, err)

	p, err := core.NewJobParametersBuilder().AddLong("id", 2, true).ToJobParameters()
	require.NoError(t, err)
	second, err := l.Launch(ctx, "job", p)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobInstanceID, second.JobInstanceID)
}

func TestLaunch_AlreadyRunning(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
		close(started)
		<-release
		return core.ExitStatusCompleted, nil
	}, nil)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	p := params(t, "first")
	done := make(chan *core.JobExecution)
	go func() {
		je, _ := l.Launch(ctx, "job", p)
		done <- je
	}()
	<-started

	_, err := l.Launch(ctx, "job", params(t, "second"))
	assert.ErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)

	close(release)
	je := <-done
	require.NotNil(t, je)
	assert.Equal(t, core.BatchStatusCompleted, je.Status)
}

func TestLaunch_ConcurrentLaunchesCreateOneInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.failing.Store(true)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	const n = 16
	p := params(t, "concurrent")
	var wg sync.WaitGroup
	var launched, rejected atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Launch(ctx, "job", p)
			switch {
			case err == nil:
				launched.Add(1)
			case errors.Is(err, exception.ErrJobExecutionAlreadyRunning):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), launched.Load()+rejected.Load())
	count, err := f.repo.GetJobInstanceCount(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	instances, err := f.repo.FindJobInstancesByJobName(ctx, "job")
	require.NoError(t, err)
	executions, err := f.repo.FindJobExecutionsByJobInstance(ctx, instances[0])
	require.NoError(t, err)
	assert.Len(t, executions, int(launched.Load()))
	assert.LessOrEqual(t, len(executions), n)
}

func TestLaunch_AbandonedInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.failing.Store(true)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	first, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	first.MarkAsAbandoned()
	require.NoError(t, f.repo.UpdateJobExecution(ctx, first))

	_, err = l.Launch(ctx, "job", params(t, "first"))
	assert.ErrorIs(t, err, exception.ErrJobRestart)
}

func TestLaunch_NotRestartableJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(j *runner.SimpleJob) { j.WithRestartable(false) })
	f.failing.Store(true)
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	_, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	_, err = l.Launch(ctx, "job", params(t, "first"))
	assert.ErrorIs(t, err, exception.ErrJobRestart)
}

func TestLaunch_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(j *runner.SimpleJob) {
		j.WithValidator(core.NewDefaultJobParametersValidator([]string{"id"}, nil))
	})
	l := joblauncher.NewSimpleJobLauncher(f.repo, f.factory)

	_, err := l.Launch(ctx, "missing", params(t, "x"))
	assert.ErrorIs(t, err, exception.ErrJobNotFound)

	_, err = l.Launch(ctx, "job", core.NewJobParameters())
	assert.ErrorIs(t, err, exception.ErrInvalidJobParameters)

	names, err := f.repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLaunch_StopBetweenSteps(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	jf := factory.NewJobFactory(config.NewConfig(), repo)

	started := make(chan struct{})
	release := make(chan struct{})
	var secondRan atomic.Bool
	jf.RegisterJobBuilder("job", func(r job.JobRepository, cfg *config.Config) (core.Job, error) {
		return runner.NewSimpleJob("job", r, []core.Step{
			step.NewTaskletStep("first", step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
				close(started)
				<-release
				return core.ExitStatusCompleted, nil
			}), r, nil),
			step.NewTaskletStep("second", step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
				secondRan.Store(true)
				return core.ExitStatusCompleted, nil
			}), r, nil),
		}, nil), nil
	})
	l := joblauncher.NewSimpleJobLauncher(repo, jf)

	p := params(t, "first")
	done := make(chan *core.JobExecution)
	go func() {
		je, _ := l.Launch(ctx, "job", p)
		done <- je
	}()
	<-started

	running, err := repo.FindRunningJobExecutions(ctx, "job")
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.NoError(t, l.Stop(running[0].ID))
	close(release)

	var je *core.JobExecution
	select {
	case je = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("launch did not return")
	}
	require.NotNil(t, je)
	assert.Equal(t, core.BatchStatusStopped, je.Status)
	assert.False(t, secondRan.Load())
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, core.BatchStatusCompleted, je.StepExecutions[0].Status)

	assert.ErrorIs(t, l.Stop(je.ID), exception.ErrJobExecutionNotFound)

	// STOPPED は再起動でき、完了済みのステップはスキップされる
	restarted, err := l.Launch(ctx, "job", params(t, "first"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, restarted.Status)
	assert.True(t, secondRan.Load())
}

// failFirstUpdateRepository は最初の UpdateJobExecution だけを失敗させます。
type failFirstUpdateRepository struct {
	*repository.MemoryJobRepository
	failed atomic.Bool
}

func (r *failFirstUpdateRepository) UpdateJobExecution(ctx context.Context, je *core.JobExecution) error {
	if r.failed.CompareAndSwap(false, true) {
		return errors.New("transient db error")
	}
	return r.MemoryJobRepository.UpdateJobExecution(ctx, je)
}

func TestLaunch_StartedUpdateFailurePersistsFailed(t *testing.T) {
	ctx := context.Background()
	repo := &failFirstUpdateRepository{MemoryJobRepository: repository.NewMemoryJobRepository()}
	jf := factory.NewJobFactory(config.NewConfig(), repo)
	var executed atomic.Int32
	jf.RegisterJobBuilder("job", func(r job.JobRepository, cfg *config.Config) (core.Job, error) {
		work := step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
			executed.Add(1)
			return core.ExitStatusCompleted, nil
		})
		return runner.NewSimpleJob("job", r, []core.Step{step.NewTaskletStep("step", work, r, nil)}, nil), nil
	})
	l := joblauncher.NewSimpleJobLauncher(repo, jf)

	first, err := l.Launch(ctx, "job", params(t, "first"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient db error")
	require.NotNil(t, first)
	assert.Equal(t, core.BatchStatusFailed, first.Status)
	assert.Equal(t, int32(0), executed.Load())

	stored, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, stored.Status)

	second, err := l.Launch(ctx, "job", params(t, "second"))
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, second.Status)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
}
