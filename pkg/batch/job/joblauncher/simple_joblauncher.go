package joblauncher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

const launcherModule = "job_launcher"

// Option は SimpleJobLauncher の設定を変更します。
type Option func(*SimpleJobLauncher)

// WithAllowRestartOfCompleted が true の場合、COMPLETED の JobInstance を同じパラメータで再実行できます。
func WithAllowRestartOfCompleted(allow bool) Option {
	return func(l *SimpleJobLauncher) { l.allowRestartOfCompleted = allow }
}

// WithKeyGenerator はジョブキーの生成方法を変更します。
func WithKeyGenerator(g core.JobKeyGenerator) Option {
	return func(l *SimpleJobLauncher) { l.keyGenerator = g }
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// SimpleJobLauncher は JobLauncher インターフェースのシンプルな実装です。
// 識別パラメータから JobInstance を決定し、新規起動か再起動かを判定して JobExecution を作成します。
// 新しい JobExecution には常に Launch に渡されたパラメータが保存されます。
type SimpleJobLauncher struct {
	jobRepository           job.JobRepository
	jobProvider             JobProvider
	keyGenerator            core.JobKeyGenerator
	allowRestartOfCompleted bool

	mu                     sync.Mutex
	keyLocks               map[string]*keyLock
	activeJobCancellations map[string]context.CancelFunc
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher は新しい SimpleJobLauncher のインスタンスを作成します。
func NewSimpleJobLauncher(jobRepository job.JobRepository, jobProvider JobProvider, opts ...Option) *SimpleJobLauncher {
	l := &SimpleJobLauncher{
		jobRepository:          jobRepository,
		jobProvider:            jobProvider,
		keyGenerator:           core.NewDefaultJobKeyGenerator(),
		keyLocks:               make(map[string]*keyLock),
		activeJobCancellations: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockKey は (ジョブ名, ジョブキー) ごとのロックを取得し、解放する関数を返します。
func (l *SimpleJobLauncher) lockKey(key string) func() {
	l.mu.Lock()
	kl, ok := l.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		l.keyLocks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.keyLocks, key)
		}
		l.mu.Unlock()
	}
}

func (l *SimpleJobLauncher) registerCancelFunc(executionID string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeJobCancellations[executionID] = cancel
	logger.Debugf("JobExecution (ID: %s) の CancelFunc を登録しました。", executionID)
}

func (l *SimpleJobLauncher) unregisterCancelFunc(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.activeJobCancellations[executionID]; ok {
		cancel()
		delete(l.activeJobCancellations, executionID)
		logger.Debugf("JobExecution (ID: %s) の CancelFunc を登録解除しました。", executionID)
	}
}

// Stop は JobLauncher インターフェースを実装します。
// このランチャーで実行中でない JobExecution の場合は exception.ErrJobExecutionNotFound をラップしたエラーを返します。
func (l *SimpleJobLauncher) Stop(executionID string) error {
	l.mu.Lock()
	cancel, ok := l.activeJobCancellations[executionID]
	l.mu.Unlock()
	if !ok {
		return exception.NewBatchError(launcherModule, fmt.Sprintf("JobExecution (ID: %s) はこのランチャーで実行中ではありません", executionID), exception.ErrJobExecutionNotFound, false, false)
	}
	cancel()
	logger.Infof("JobExecution (ID: %s) に停止を通知しました。", executionID)
	return nil
}

// Launch は JobLauncher インターフェースを実装します。
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error) {
	logger.Infof("Job '%s' を起動します。Parameters: %s", jobName, params)

	batchJob, err := l.jobProvider.CreateJob(jobName)
	if err != nil {
		logger.Errorf("Job '%s' の作成に失敗しました: %v", jobName, err)
		return nil, exception.NewBatchError(launcherModule, fmt.Sprintf("Job '%s' の作成に失敗しました", jobName), err, false, false)
	}

	if err := batchJob.ValidateParameters(params); err != nil {
		logger.Errorf("Job '%s': JobParameters のバリデーションに失敗しました: %v", jobName, err)
		return nil, exception.NewBatchError(launcherModule, "JobParameters のバリデーションエラー", err, false, false)
	}

	jobKey := l.keyGenerator.GenerateKey(jobName, params)
	jobExecution, err := l.createExecution(ctx, batchJob, jobKey, params)
	if err != nil {
		return nil, err
	}
	return l.run(ctx, batchJob, jobExecution)
}

// createExecution は JobInstance を決定し、新しい JobExecution を STARTING 状態で保存します。
// ジョブキーごとのロック内で行うため、同じ JobInstance の JobExecution が同時に 2 つ作成されることはありません。
func (l *SimpleJobLauncher) createExecution(ctx context.Context, batchJob core.Job, jobKey string, params core.JobParameters) (*core.JobExecution, error) {
	jobName := batchJob.JobName()
	unlock := l.lockKey(jobName + "\x00" + jobKey)
	defer unlock()

	jobInstance, created, err := l.findOrCreateInstance(ctx, jobName, jobKey)
	if err != nil {
		return nil, err
	}

	if !created {
		latest, err := l.jobRepository.FindLatestJobExecution(ctx, jobInstance.ID)
		switch {
		case err == nil:
			if err := l.checkRestartable(batchJob, jobInstance, latest); err != nil {
				return nil, err
			}
			logger.Infof("JobInstance (ID: %s) を再起動します。前回の JobExecution (ID: %s) の Status: %s",
				jobInstance.ID, latest.ID, latest.Status)
		case errors.Is(err, exception.ErrNotFound):
			logger.Debugf("JobInstance (ID: %s) には JobExecution がありません。", jobInstance.ID)
		default:
			return nil, exception.NewBatchError(launcherModule, "起動処理エラー: 最新の JobExecution の検索に失敗しました", err, exception.IsTemporary(err), false)
		}
	}

	jobExecution := core.NewJobExecution(jobInstance, params)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("JobExecution (ID: %s) の初期永続化に失敗しました: %v", jobExecution.ID, err)
		return nil, exception.NewBatchError(launcherModule, "起動処理エラー: JobExecution の初期保存に失敗しました", err, exception.IsTemporary(err), false)
	}
	logger.Debugf("JobExecution (ID: %s) を JobRepository に初期保存しました。", jobExecution.ID)
	return jobExecution, nil
}

func (l *SimpleJobLauncher) findOrCreateInstance(ctx context.Context, jobName, jobKey string) (*core.JobInstance, bool, error) {
	jobInstance, err := l.jobRepository.FindJobInstanceByJobNameAndKey(ctx, jobName, jobKey)
	if err == nil {
		logger.Infof("既存の JobInstance (ID: %s, JobName: %s) を使用します。", jobInstance.ID, jobName)
		return jobInstance, false, nil
	}
	if !errors.Is(err, exception.ErrNotFound) {
		return nil, false, exception.NewBatchError(launcherModule, "起動処理エラー: JobInstance の検索に失敗しました", err, exception.IsTemporary(err), false)
	}

	jobInstance = core.NewJobInstance(jobName, jobKey)
	err = l.jobRepository.SaveJobInstance(ctx, jobInstance)
	if err == nil {
		logger.Infof("新しい JobInstance (ID: %s, JobName: %s) を作成し保存しました。", jobInstance.ID, jobName)
		return jobInstance, true, nil
	}
	if !errors.Is(err, exception.ErrDuplicateKey) {
		return nil, false, exception.NewBatchError(launcherModule, "起動処理エラー: 新しい JobInstance の保存に失敗しました", err, exception.IsTemporary(err), false)
	}

	// 別のプロセスが先に作成した
	logger.Debugf("JobInstance (JobName: %s, JobKey: %s) は他のプロセスが作成しました。再検索します。", jobName, jobKey)
	jobInstance, err = l.jobRepository.FindJobInstanceByJobNameAndKey(ctx, jobName, jobKey)
	if err != nil {
		return nil, false, exception.NewBatchError(launcherModule, "起動処理エラー: JobInstance の再検索に失敗しました", err, exception.IsTemporary(err), false)
	}
	return jobInstance, false, nil
}

func (l *SimpleJobLauncher) checkRestartable(batchJob core.Job, jobInstance *core.JobInstance, latest *core.JobExecution) error {
	switch {
	case latest.Status.IsRunning():
		return exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobInstance (ID: %s) の JobExecution (ID: %s) は実行中です", jobInstance.ID, latest.ID),
			exception.ErrJobExecutionAlreadyRunning, false, false)
	case latest.Status == core.BatchStatusCompleted && !l.allowRestartOfCompleted:
		return exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobInstance (ID: %s) は既に完了しています。別の識別パラメータで起動してください", jobInstance.ID),
			exception.ErrJobInstanceAlreadyComplete, false, false)
	case latest.Status == core.BatchStatusAbandoned || latest.Status == core.BatchStatusUnknown:
		return exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobInstance (ID: %s) は %s のため再起動できません", jobInstance.ID, latest.Status),
			exception.ErrJobRestart, false, false)
	case !batchJob.IsRestartable():
		return exception.NewBatchError(launcherModule,
			fmt.Sprintf("Job '%s' は再起動できません", batchJob.JobName()),
			exception.ErrJobRestart, false, false)
	}
	return nil
}

// run は JobExecution を STARTED にしてジョブを実行し、最終状態を永続化します。
func (l *SimpleJobLauncher) run(ctx context.Context, batchJob core.Job, jobExecution *core.JobExecution) (*core.JobExecution, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	l.registerCancelFunc(jobExecution.ID, cancel)
	defer l.unregisterCancelFunc(jobExecution.ID)

	// 状態の永続化は呼び出し元のキャンセルに関わらず行う
	persistCtx := context.WithoutCancel(ctx)

	jobExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(persistCtx, jobExecution); err != nil {
		logger.Errorf("JobExecution (ID: %s) の Started 状態への更新に失敗しました: %v", jobExecution.ID, err)
		jobExecution.MarkAsFailed(err)
		// STARTING のまま残すと JobInstance が実行中と判定され続ける
		if saveErr := l.jobRepository.UpdateJobExecution(persistCtx, jobExecution); saveErr != nil {
			logger.Errorf("JobExecution (ID: %s) の FAILED 状態の保存にも失敗しました: %v", jobExecution.ID, saveErr)
			err = errors.Join(err, saveErr)
		}
		return jobExecution, exception.NewBatchError(launcherModule, "JobExecution 状態更新エラー (Started)", err, exception.IsTemporary(err), false)
	}

	logger.Infof("Job '%s' (Execution ID: %s, Job Instance ID: %s) を実行します。",
		batchJob.JobName(), jobExecution.ID, jobExecution.JobInstanceID)
	runErr := batchJob.Run(jobCtx, jobExecution)
	if jobExecution.Status.IsRunning() {
		if runErr != nil {
			jobExecution.MarkAsFailed(runErr)
		} else {
			jobExecution.MarkAsCompleted()
		}
	}

	if err := l.jobRepository.UpdateJobExecution(persistCtx, jobExecution); err != nil {
		logger.Errorf("JobExecution (ID: %s) の最終状態の更新に失敗しました: %v", jobExecution.ID, err)
		return jobExecution, exception.NewBatchError(launcherModule, "JobExecution 最終状態の永続化に失敗しました", errors.Join(err, runErr), exception.IsTemporary(err), false)
	}
	logger.Debugf("JobExecution (ID: %s) を JobRepository で最終状態 (%s) に更新しました。", jobExecution.ID, jobExecution.Status)

	if runErr != nil && !errors.Is(runErr, exception.ErrStepFailed) {
		return jobExecution, exception.NewBatchError(launcherModule, "Job 実行中にエラーが発生しました", runErr, exception.IsTemporary(runErr), false)
	}
	return jobExecution, nil
}
