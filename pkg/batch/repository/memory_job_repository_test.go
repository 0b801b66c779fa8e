package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

func params(t *testing.T, nonIdentifying string) core.JobParameters {
	t.Helper()
	p, err := core.NewJobParametersBuilder().
		AddLong("id", 1, true).
		AddString("exampleNonIdentifying", nonIdentifying, false).
		ToJobParameters()
	require.NoError(t, err)
	return p
}

func saveInstance(t *testing.T, r *MemoryJobRepository, key string) *core.JobInstance {
	t.Helper()
	inst := core.NewJobInstance("job", key)
	require.NoError(t, r.SaveJobInstance(context.Background(), inst))
	return inst
}

func TestMemory_SaveJobInstance_Duplicate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k1")

	err := r.SaveJobInstance(ctx, core.NewJobInstance("job", "k1"))
	assert.ErrorIs(t, err, exception.ErrDuplicateKey)

	found, err := r.FindJobInstanceByJobNameAndKey(ctx, "job", "k1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, found.ID)

	_, err = r.FindJobInstanceByJobNameAndKey(ctx, "job", "k2")
	assert.ErrorIs(t, err, exception.ErrJobInstanceNotFound)
	assert.ErrorIs(t, err, exception.ErrNotFound)

	require.NoError(t, r.SaveJobInstance(ctx, core.NewJobInstance("other", "k1")))
	names, err := r.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job", "other"}, names)

	n, err := r.GetJobInstanceCount(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_ConcurrentSaveJobInstance(t *testing.T) {
	r := NewMemoryJobRepository()
	var wg sync.WaitGroup
	var mu sync.Mutex
	saved, dup := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.SaveJobInstance(context.Background(), core.NewJobInstance("job", "same"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				saved++
			} else if errors.Is(err, exception.ErrDuplicateKey) {
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, saved)
	assert.Equal(t, 15, dup)
}

func TestMemory_ExecutionsKeepOwnParameters(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")

	first := core.NewJobExecution(inst, params(t, "first"))
	require.NoError(t, r.SaveJobExecution(ctx, first))
	first.MarkAsFailed(errors.New("boom"))
	require.NoError(t, r.UpdateJobExecution(ctx, first))

	second := core.NewJobExecution(inst, params(t, "second"))
	require.NoError(t, r.SaveJobExecution(ctx, second))

	list, err := r.FindJobExecutionsByJobInstance(ctx, inst)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	v, _ := list[0].Parameters.GetString("exampleNonIdentifying")
	assert.Equal(t, "first", v)
	v, _ = list[1].Parameters.GetString("exampleNonIdentifying")
	assert.Equal(t, "second", v)
	assert.Equal(t, core.BatchStatusFailed, list[0].Status)
	assert.Len(t, list[0].Failures, 1)

	latest, err := r.FindLatestJobExecution(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestMemory_UpdateNeverChangesParameters(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")

	je := core.NewJobExecution(inst, params(t, "first"))
	require.NoError(t, r.SaveJobExecution(ctx, je))

	je.Parameters = params(t, "tampered")
	je.MarkAsCompleted()
	require.NoError(t, r.UpdateJobExecution(ctx, je))

	got, err := r.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	v, _ := got.Parameters.GetString("exampleNonIdentifying")
	assert.Equal(t, "first", v)
	assert.Equal(t, core.BatchStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")
	je := core.NewJobExecution(inst, params(t, "first"))
	require.NoError(t, r.SaveJobExecution(ctx, je))

	je.Status = core.BatchStatusFailed
	got, err := r.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusStarting, got.Status)

	got.ExecutionContext.Put("x", 1)
	again, err := r.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	_, ok := again.ExecutionContext.Get("x")
	assert.False(t, ok)
}

func TestMemory_TransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")
	je := core.NewJobExecution(inst, core.NewJobParameters())
	require.NoError(t, r.SaveJobExecution(ctx, je))
	se := core.NewStepExecution(je, "step")
	require.NoError(t, r.SaveStepExecution(ctx, se))

	txCtx, trx, err := r.Begin(ctx)
	require.NoError(t, err)
	se.ReadCount = 5
	require.NoError(t, r.UpdateStepExecution(txCtx, se))

	stored, err := r.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ReadCount)

	require.NoError(t, trx.Rollback())
	stored, err = r.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ReadCount)

	txCtx, trx, err = r.Begin(ctx)
	require.NoError(t, err)
	se.ReadCount = 7
	require.NoError(t, r.UpdateStepExecution(txCtx, se))
	var committed bool
	trx.AfterCompletion(func(c bool) { committed = c })
	require.NoError(t, trx.Commit())
	assert.True(t, committed)

	stored, err = r.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.ReadCount)
}

func TestMemory_TransactionStagesNewEntities(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()

	txCtx, trx, err := r.Begin(ctx)
	require.NoError(t, err)
	inst := core.NewJobInstance("job", "k")
	require.NoError(t, r.SaveJobInstance(txCtx, inst))
	je := core.NewJobExecution(inst, core.NewJobParameters())
	require.NoError(t, r.SaveJobExecution(txCtx, je))
	assert.ErrorIs(t, r.SaveJobInstance(txCtx, core.NewJobInstance("job", "k")), exception.ErrDuplicateKey)

	_, err = r.FindJobInstanceByID(ctx, inst.ID)
	assert.ErrorIs(t, err, exception.ErrJobInstanceNotFound)

	require.NoError(t, trx.Commit())
	_, err = r.FindJobExecutionByID(ctx, je.ID)
	assert.NoError(t, err)
}

func TestMemory_StepExecutions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")

	first := core.NewJobExecution(inst, core.NewJobParameters())
	require.NoError(t, r.SaveJobExecution(ctx, first))
	s1 := core.NewStepExecution(first, "step")
	s1.MarkAsFailed(errors.New("boom"))
	require.NoError(t, r.SaveStepExecution(ctx, s1))

	second := core.NewJobExecution(inst, core.NewJobParameters())
	require.NoError(t, r.SaveJobExecution(ctx, second))
	s2 := core.NewStepExecution(second, "step")
	s2.MarkAsCompleted()
	require.NoError(t, r.SaveStepExecution(ctx, s2))

	last, err := r.FindLastStepExecution(ctx, inst.ID, "step")
	require.NoError(t, err)
	assert.Equal(t, s2.ID, last.ID)

	_, err = r.FindLastStepExecution(ctx, inst.ID, "other")
	assert.ErrorIs(t, err, exception.ErrStepExecutionNotFound)

	je, err := r.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, core.BatchStatusFailed, je.StepExecutions[0].Status)

	err = r.SaveStepExecution(ctx, &core.StepExecution{ID: "x", JobExecutionID: "missing"})
	assert.ErrorIs(t, err, exception.ErrJobExecutionNotFound)
	err = r.UpdateStepExecution(ctx, &core.StepExecution{ID: "missing"})
	assert.ErrorIs(t, err, exception.ErrStepExecutionNotFound)
}

func TestMemory_FindRunningJobExecutions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryJobRepository()
	inst := saveInstance(t, r, "k")

	done := core.NewJobExecution(inst, core.NewJobParameters())
	done.MarkAsCompleted()
	require.NoError(t, r.SaveJobExecution(ctx, done))

	running := core.NewJobExecution(inst, core.NewJobParameters())
	running.MarkAsStarted()
	require.NoError(t, r.SaveJobExecution(ctx, running))

	list, err := r.FindRunningJobExecutions(ctx, "job")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, running.ID, list[0].ID)
}
