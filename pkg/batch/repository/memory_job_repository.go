package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/tx"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

const repositoryModule = "job_repository"

// MemoryJobRepository はプロセス内のマップにメタデータを保持する JobRepository の実装です。
// 保存時と取得時にはコピーを作るため、呼び出し側が返された値を変更してもリポジトリの内容は変わりません。
// トランザクション内の書き込みはコミットまで保留され、コミット時にまとめて反映されます。
type MemoryJobRepository struct {
	mu sync.RWMutex

	instances     map[string]*core.JobInstance
	instanceOrder []string
	instanceKeys  map[string]string

	executions           map[string]*core.JobExecution
	executionsByInstance map[string][]string

	steps            map[string]*core.StepExecution
	stepsByExecution map[string][]string
}

// NewMemoryJobRepository は空の MemoryJobRepository を作成します。
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		instances:            make(map[string]*core.JobInstance),
		instanceKeys:         make(map[string]string),
		executions:           make(map[string]*core.JobExecution),
		executionsByInstance: make(map[string][]string),
		steps:                make(map[string]*core.StepExecution),
		stepsByExecution:     make(map[string][]string),
	}
}

var _ job.JobRepository = (*MemoryJobRepository)(nil)

// memoryOp は保留できる 1 件の書き込みです。
// check はロック中に pending (同じバッチ内で先に作成されるキー) を参照して検証し、apply は状態を変更します。
type memoryOp struct {
	provides []string
	check    func(pending map[string]bool) error
	apply    func()
}

type memoryTransaction struct {
	tx.Synchronizations
	repo *MemoryJobRepository

	mu      sync.Mutex
	ops     []memoryOp
	pending map[string]bool
}

// Commit は保留していた書き込みをまとめて反映します。検証に失敗した場合は何も反映しません。
func (t *memoryTransaction) Commit() error {
	if t.Done() {
		return tx.ErrTransactionClosed
	}
	t.mu.Lock()
	ops := t.ops
	t.ops = nil
	t.mu.Unlock()

	if err := t.repo.applyOps(ops); err != nil {
		_ = t.Complete(false)
		return err
	}
	return t.Complete(true)
}

// Rollback は保留していた書き込みを破棄します。
func (t *memoryTransaction) Rollback() error {
	if t.Done() {
		return tx.ErrTransactionClosed
	}
	t.mu.Lock()
	t.ops = nil
	t.mu.Unlock()
	return t.Complete(false)
}

// Begin は tx.Manager インターフェースを実装します。
func (r *MemoryJobRepository) Begin(ctx context.Context) (context.Context, tx.Transaction, error) {
	t := &memoryTransaction{repo: r, pending: make(map[string]bool)}
	return tx.WithTransaction(ctx, t), t, nil
}

func (r *MemoryJobRepository) applyOps(ops []memoryOp) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]bool)
	for _, op := range ops {
		if err := op.check(pending); err != nil {
			return err
		}
		for _, p := range op.provides {
			pending[p] = true
		}
	}
	for _, op := range ops {
		op.apply()
	}
	return nil
}

// write は ctx にこのリポジトリのトランザクションがあれば書き込みを保留し、なければ即座に反映します。
func (r *MemoryJobRepository) write(ctx context.Context, op memoryOp) error {
	if t, ok := tx.FromContext(ctx); ok {
		if mt, ok := t.(*memoryTransaction); ok && mt.repo == r && !mt.Done() {
			mt.mu.Lock()
			defer mt.mu.Unlock()

			r.mu.RLock()
			err := op.check(mt.pending)
			r.mu.RUnlock()
			if err != nil {
				return err
			}
			for _, p := range op.provides {
				mt.pending[p] = true
			}
			mt.ops = append(mt.ops, op)
			return nil
		}
	}
	return r.applyOps([]memoryOp{op})
}

func instanceKey(jobName, jobKey string) string {
	return "key:" + jobName + "\x00" + jobKey
}

func notFound(sentinel error, format string, a ...interface{}) error {
	return exception.NewBatchError(repositoryModule, fmt.Sprintf(format, a...), sentinel, false, false)
}

// SaveJobInstance は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	stored := *jobInstance
	key := instanceKey(stored.JobName, stored.JobKey)
	err := r.write(ctx, memoryOp{
		provides: []string{stored.ID, key},
		check: func(pending map[string]bool) error {
			if _, exists := r.instanceKeys[key]; exists || pending[key] {
				return exception.NewBatchError(repositoryModule,
					fmt.Sprintf("JobInstance (JobName: %s, JobKey: %s) は既に存在します", stored.JobName, stored.JobKey),
					exception.ErrDuplicateKey, false, false)
			}
			return nil
		},
		apply: func() {
			r.instances[stored.ID] = &stored
			r.instanceOrder = append(r.instanceOrder, stored.ID)
			r.instanceKeys[key] = stored.ID
		},
	})
	if err != nil {
		return err
	}
	logger.Debugf("JobInstance (ID: %s, JobName: %s) を保存しました。", stored.ID, stored.JobName)
	return nil
}

// FindJobInstanceByJobNameAndKey は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) FindJobInstanceByJobNameAndKey(ctx context.Context, jobName, jobKey string) (*core.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.instanceKeys[instanceKey(jobName, jobKey)]
	if !ok {
		return nil, notFound(exception.ErrJobInstanceNotFound, "JobInstance (JobName: %s, JobKey: %s) が見つかりませんでした", jobName, jobKey)
	}
	out := *r.instances[id]
	return &out, nil
}

// FindJobInstanceByID は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, notFound(exception.ErrJobInstanceNotFound, "JobInstance (ID: %s) が見つかりませんでした", instanceID)
	}
	out := *inst
	return &out, nil
}

// FindJobInstancesByJobName は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string) ([]*core.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.JobInstance
	for i := len(r.instanceOrder) - 1; i >= 0; i-- {
		inst := r.instances[r.instanceOrder[i]]
		if inst.JobName == jobName {
			c := *inst
			out = append(out, &c)
		}
	}
	return out, nil
}

// GetJobInstanceCount は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, inst := range r.instances {
		if inst.JobName == jobName {
			n++
		}
	}
	return n, nil
}

// GetJobNames は job.JobInstance インターフェースを実装します。
func (r *MemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, inst := range r.instances {
		if _, ok := seen[inst.JobName]; !ok {
			seen[inst.JobName] = struct{}{}
			names = append(names, inst.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// snapshotExecution は StepExecutions を除いた JobExecution のコピーを作ります。StepExecution は別に保持します。
func snapshotExecution(je *core.JobExecution) *core.JobExecution {
	c := je.Clone()
	c.StepExecutions = nil
	return c
}

// SaveJobExecution は job.JobExecution インターフェースを実装します。
func (r *MemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	stored := snapshotExecution(jobExecution)
	err := r.write(ctx, memoryOp{
		provides: []string{stored.ID},
		check: func(pending map[string]bool) error {
			if _, ok := r.instances[stored.JobInstanceID]; !ok && !pending[stored.JobInstanceID] {
				return notFound(exception.ErrJobInstanceNotFound, "JobExecution (ID: %s) の JobInstance (ID: %s) が見つかりませんでした", stored.ID, stored.JobInstanceID)
			}
			if _, exists := r.executions[stored.ID]; exists || pending[stored.ID] {
				return exception.NewBatchErrorf(repositoryModule, "JobExecution (ID: %s) は既に保存されています", stored.ID)
			}
			return nil
		},
		apply: func() {
			r.executions[stored.ID] = stored
			r.executionsByInstance[stored.JobInstanceID] = append(r.executionsByInstance[stored.JobInstanceID], stored.ID)
		},
	})
	if err != nil {
		return err
	}
	logger.Debugf("JobExecution (ID: %s, JobInstanceID: %s) を保存しました。", stored.ID, stored.JobInstanceID)
	return nil
}

// UpdateJobExecution は job.JobExecution インターフェースを実装します。保存済みの Parameters は変更しません。
func (r *MemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	jobExecution.LastUpdated = time.Now()
	jobExecution.Version++
	update := snapshotExecution(jobExecution)
	err := r.write(ctx, memoryOp{
		check: func(pending map[string]bool) error {
			if _, ok := r.executions[update.ID]; !ok && !pending[update.ID] {
				return notFound(exception.ErrJobExecutionNotFound, "JobExecution (ID: %s) の更新対象が見つかりませんでした", update.ID)
			}
			return nil
		},
		apply: func() {
			current := r.executions[update.ID]
			update.Parameters = current.Parameters
			update.JobInstanceID = current.JobInstanceID
			update.CreateTime = current.CreateTime
			r.executions[update.ID] = update
		},
	})
	if err != nil {
		jobExecution.Version--
		return err
	}
	logger.Debugf("JobExecution (ID: %s) を更新しました。Status: %s", update.ID, update.Status)
	return nil
}

func (r *MemoryJobRepository) loadExecution(id string) *core.JobExecution {
	stored := r.executions[id]
	out := stored.Clone()
	for _, sid := range r.stepsByExecution[id] {
		out.StepExecutions = append(out.StepExecutions, r.steps[sid].Clone())
	}
	return out
}

// FindJobExecutionByID は job.JobExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.executions[executionID]; !ok {
		return nil, notFound(exception.ErrJobExecutionNotFound, "JobExecution (ID: %s) が見つかりませんでした", executionID)
	}
	return r.loadExecution(executionID), nil
}

// FindLatestJobExecution は job.JobExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.executionsByInstance[jobInstanceID]
	if len(ids) == 0 {
		return nil, notFound(exception.ErrJobExecutionNotFound, "JobInstance (ID: %s) の JobExecution が見つかりませんでした", jobInstanceID)
	}
	return r.loadExecution(ids[len(ids)-1]), nil
}

// FindJobExecutionsByJobInstance は job.JobExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.executionsByInstance[jobInstance.ID]
	out := make([]*core.JobExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.loadExecution(id))
	}
	return out, nil
}

// FindRunningJobExecutions は job.JobExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.JobExecution, 0)
	for id, je := range r.executions {
		if je.JobName == jobName && je.Status.IsRunning() {
			out = append(out, r.loadExecution(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveStepExecution は job.StepExecution インターフェースを実装します。
func (r *MemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	stored := stepExecution.Clone()
	err := r.write(ctx, memoryOp{
		provides: []string{stored.ID},
		check: func(pending map[string]bool) error {
			if _, ok := r.executions[stored.JobExecutionID]; !ok && !pending[stored.JobExecutionID] {
				return notFound(exception.ErrJobExecutionNotFound, "StepExecution (ID: %s) の JobExecution (ID: %s) が見つかりませんでした", stored.ID, stored.JobExecutionID)
			}
			if _, exists := r.steps[stored.ID]; exists || pending[stored.ID] {
				return exception.NewBatchErrorf(repositoryModule, "StepExecution (ID: %s) は既に保存されています", stored.ID)
			}
			return nil
		},
		apply: func() {
			r.steps[stored.ID] = stored
			r.stepsByExecution[stored.JobExecutionID] = append(r.stepsByExecution[stored.JobExecutionID], stored.ID)
		},
	})
	if err != nil {
		return err
	}
	logger.Debugf("StepExecution (ID: %s, StepName: %s) を保存しました。", stored.ID, stored.StepName)
	return nil
}

// UpdateStepExecution は job.StepExecution インターフェースを実装します。
func (r *MemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	stepExecution.LastUpdated = time.Now()
	stepExecution.Version++
	update := stepExecution.Clone()
	err := r.write(ctx, memoryOp{
		check: func(pending map[string]bool) error {
			if _, ok := r.steps[update.ID]; !ok && !pending[update.ID] {
				return notFound(exception.ErrStepExecutionNotFound, "StepExecution (ID: %s) の更新対象が見つかりませんでした", update.ID)
			}
			return nil
		},
		apply: func() {
			r.steps[update.ID] = update
		},
	})
	if err != nil {
		stepExecution.Version--
		return err
	}
	logger.Debugf("StepExecution (ID: %s) を更新しました。Status: %s", update.ID, update.Status)
	return nil
}

// FindStepExecutionByID は job.StepExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	se, ok := r.steps[executionID]
	if !ok {
		return nil, notFound(exception.ErrStepExecutionNotFound, "StepExecution (ID: %s) が見つかりませんでした", executionID)
	}
	return se.Clone(), nil
}

// FindStepExecutionsByJobExecutionID は job.StepExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.stepsByExecution[jobExecutionID]
	out := make([]*core.StepExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.steps[id].Clone())
	}
	return out, nil
}

// FindLastStepExecution は job.StepExecution インターフェースを実装します。
func (r *MemoryJobRepository) FindLastStepExecution(ctx context.Context, jobInstanceID, stepName string) (*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	execIDs := r.executionsByInstance[jobInstanceID]
	for i := len(execIDs) - 1; i >= 0; i-- {
		stepIDs := r.stepsByExecution[execIDs[i]]
		for j := len(stepIDs) - 1; j >= 0; j-- {
			if se := r.steps[stepIDs[j]]; se.StepName == stepName {
				return se.Clone(), nil
			}
		}
	}
	return nil, notFound(exception.ErrStepExecutionNotFound, "JobInstance (ID: %s) のステップ '%s' の StepExecution が見つかりませんでした", jobInstanceID, stepName)
}

// Close は何もしません。
func (r *MemoryJobRepository) Close() error {
	return nil
}
