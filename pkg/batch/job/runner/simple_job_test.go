package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/job/runner"
	"github.com/tigerroll/jobrestart/pkg/batch/repository"
	"github.com/tigerroll/jobrestart/pkg/batch/step"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

type mockJobListener struct {
	mock.Mock
}

func (m *mockJobListener) BeforeJob(ctx context.Context, je *core.JobExecution) {
	m.Called(je.ID)
}

func (m *mockJobListener) AfterJob(ctx context.Context, je *core.JobExecution) {
	m.Called(je.ID, je.Status)
}

type recorder struct {
	calls []string
}

func (r *recorder) step(repo *repository.MemoryJobRepository, name string, fail *bool) *step.TaskletStep {
	return step.NewTaskletStep(name, step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
		r.calls = append(r.calls, name)
		if fail != nil && *fail {
			return core.ExitStatusFailed, errors.New(name + " failed")
		}
		return core.ExitStatusCompleted, nil
	}), repo, nil)
}

func newExecution(t *testing.T, repo *repository.MemoryJobRepository, inst *core.JobInstance) *core.JobExecution {
	t.Helper()
	je := core.NewJobExecution(inst, core.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	je.MarkAsStarted()
	return je
}

func newInstance(t *testing.T, repo *repository.MemoryJobRepository) *core.JobInstance {
	t.Helper()
	inst := core.NewJobInstance("job", "key")
	require.NoError(t, repo.SaveJobInstance(context.Background(), inst))
	return inst
}

func TestSimpleJob_RunsStepsInOrder(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}

	l := &mockJobListener{}
	j := runner.NewSimpleJob("job", repo, []core.Step{
		rec.step(repo, "first", nil),
		rec.step(repo, "second", nil),
	}, []core.JobExecutionListener{l})

	je := newExecution(t, repo, inst)
	l.On("BeforeJob", je.ID).Once()
	l.On("AfterJob", je.ID, core.BatchStatusCompleted).Once()

	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, []string{"first", "second"}, rec.calls)
	assert.Equal(t, core.BatchStatusCompleted, je.Status)
	assert.Equal(t, core.ExitStatusCompleted, je.ExitStatus)
	assert.Len(t, je.StepExecutions, 2)
	assert.Equal(t, "second", je.CurrentStepName)
	l.AssertExpectations(t)
}

func TestSimpleJob_FailingStepHaltsSequence(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}
	fail := true

	j := runner.NewSimpleJob("job", repo, []core.Step{
		rec.step(repo, "first", nil),
		rec.step(repo, "second", &fail),
		rec.step(repo, "third", nil),
	}, nil)

	je := newExecution(t, repo, inst)
	err := j.Run(context.Background(), je)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrStepFailed)
	assert.Equal(t, []string{"first", "second"}, rec.calls)
	assert.Equal(t, core.BatchStatusFailed, je.Status)
	assert.NotEmpty(t, je.Failures)
	assert.Contains(t, je.ExitDescription, "second failed")
}

func TestSimpleJob_RestartSkipsCompletedSteps(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}
	fail := true

	steps := []core.Step{
		rec.step(repo, "first", nil),
		rec.step(repo, "second", &fail),
	}
	j := runner.NewSimpleJob("job", repo, steps, nil)

	first := newExecution(t, repo, inst)
	require.Error(t, j.Run(context.Background(), first))
	first.MarkAsFailed(errors.New("second failed"))
	require.NoError(t, repo.UpdateJobExecution(context.Background(), first))

	fail = false
	rec.calls = nil
	second := newExecution(t, repo, inst)
	require.NoError(t, j.Run(context.Background(), second))
	assert.Equal(t, []string{"second"}, rec.calls)
	assert.Equal(t, core.BatchStatusCompleted, second.Status)
}

func TestSimpleJob_AllowStartIfCompleteReruns(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}
	fail := true

	j := runner.NewSimpleJob("job", repo, []core.Step{
		rec.step(repo, "first", nil).WithAllowStartIfComplete(true),
		rec.step(repo, "second", &fail),
	}, nil)

	first := newExecution(t, repo, inst)
	require.Error(t, j.Run(context.Background(), first))
	require.NoError(t, repo.UpdateJobExecution(context.Background(), first))

	fail = false
	rec.calls = nil
	second := newExecution(t, repo, inst)
	require.NoError(t, j.Run(context.Background(), second))
	assert.Equal(t, []string{"first", "second"}, rec.calls)
}

func TestSimpleJob_RerunOfCompletedInstanceRunsAllSteps(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}

	j := runner.NewSimpleJob("job", repo, []core.Step{rec.step(repo, "first", nil)}, nil)

	first := newExecution(t, repo, inst)
	require.NoError(t, j.Run(context.Background(), first))
	require.NoError(t, repo.UpdateJobExecution(context.Background(), first))

	second := newExecution(t, repo, inst)
	require.NoError(t, j.Run(context.Background(), second))
	assert.Equal(t, []string{"first", "first"}, rec.calls)
}

func TestSimpleJob_CancelledContextStops(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}

	j := runner.NewSimpleJob("job", repo, []core.Step{rec.step(repo, "first", nil)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	je := newExecution(t, repo, inst)
	require.NoError(t, j.Run(ctx, je))
	assert.Empty(t, rec.calls)
	assert.Equal(t, core.BatchStatusStopped, je.Status)
	assert.ErrorIs(t, je.Failures[0], context.Canceled)
}

func TestSimpleJob_StoredStoppingStopsBeforeNextStep(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	inst := newInstance(t, repo)
	rec := &recorder{}
	je := newExecution(t, repo, inst)
	require.NoError(t, repo.UpdateJobExecution(context.Background(), je))

	// 他のプロセスの Stop と同じく、ステップのトランザクションの外で STOPPING を保存する
	stopper := step.NewTaskletStep("stopper", step.TaskletFunc(func(ctx context.Context, c *core.StepContribution) (core.ExitStatus, error) {
		stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
		if err != nil {
			return core.ExitStatusFailed, err
		}
		stored.Status = core.BatchStatusStopping
		if err := repo.UpdateJobExecution(context.Background(), stored); err != nil {
			return core.ExitStatusFailed, err
		}
		return core.ExitStatusCompleted, nil
	}), repo, nil)

	j := runner.NewSimpleJob("job", repo, []core.Step{stopper, rec.step(repo, "second", nil)}, nil)
	require.NoError(t, j.Run(context.Background(), je))

	assert.Empty(t, rec.calls)
	assert.Equal(t, core.BatchStatusStopped, je.Status)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusStopping, stored.Status)
	assert.Equal(t, "stopper", stored.CurrentStepName)
}

func TestSimpleJob_Options(t *testing.T) {
	j := runner.NewSimpleJob("job", nil, nil, nil)
	assert.Equal(t, "job", j.JobName())
	assert.True(t, j.IsRestartable())
	assert.Nil(t, j.JobParametersIncrementer())
	assert.NoError(t, j.ValidateParameters(core.NewJobParameters()))

	j.WithRestartable(false).WithValidator(core.NewDefaultJobParametersValidator([]string{"id"}, nil))
	assert.False(t, j.IsRestartable())
	assert.ErrorIs(t, j.ValidateParameters(core.NewJobParameters()), exception.ErrInvalidJobParameters)
}
