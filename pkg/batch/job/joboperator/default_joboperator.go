package joboperator

import (
	"context"
	"errors"
	"fmt"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/job/joblauncher"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

const operatorModule = "job_operator"

// JobRegistry はジョブの生成と登録済みジョブ名の取得を行います。factory.JobFactory が実装します。
type JobRegistry interface {
	joblauncher.JobProvider
	GetJobNames() []string
}

// DefaultJobOperator は JobOperator インターフェースのデフォルト実装です。
// JobRepository を使用してバッチメタデータを参照し、起動と停止は JobLauncher に委譲します。
type DefaultJobOperator struct {
	jobRepository job.JobRepository
	jobLauncher   joblauncher.JobLauncher
	jobRegistry   JobRegistry
	keyGenerator  core.JobKeyGenerator
}

// DefaultJobOperator が JobOperator インターフェースを満たすことを確認します。
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator は新しい DefaultJobOperator のインスタンスを作成します。
func NewDefaultJobOperator(jobRepository job.JobRepository, jobLauncher joblauncher.JobLauncher, jobRegistry JobRegistry) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		jobLauncher:   jobLauncher,
		jobRegistry:   jobRegistry,
		keyGenerator:  core.NewDefaultJobKeyGenerator(),
	}
}

// Start は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) Start(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error) {
	logger.Infof("JobOperator: Job '%s' を起動します。", jobName)
	return o.jobLauncher.Launch(ctx, jobName, params)
}

// StartNextInstance は JobOperator インターフェースの実装です。
// 最新の JobInstance の最新の JobExecution のパラメータを元に、インクリメンタで次のパラメータを作ります。
func (o *DefaultJobOperator) StartNextInstance(ctx context.Context, jobName string) (*core.JobExecution, error) {
	batchJob, err := o.jobRegistry.CreateJob(jobName)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Job '%s' の作成に失敗しました", jobName), err, false, false)
	}
	incrementer := batchJob.JobParametersIncrementer()
	if incrementer == nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Job '%s' には JobParametersIncrementer が設定されていません", jobName), exception.ErrInvalidJobParameters, false, false)
	}

	last := core.NewJobParameters()
	instances, err := o.jobRepository.FindJobInstancesByJobName(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Job '%s' の JobInstance の検索に失敗しました", jobName), err, exception.IsTemporary(err), false)
	}
	if len(instances) > 0 {
		latest, err := o.jobRepository.FindLatestJobExecution(ctx, instances[0].ID)
		switch {
		case err == nil:
			last = latest.Parameters
		case !errors.Is(err, exception.ErrNotFound):
			return nil, exception.NewBatchError(operatorModule, "最新の JobExecution の検索に失敗しました", err, exception.IsTemporary(err), false)
		}
	}

	next, err := incrementer.GetNext(last)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, "次の JobParameters の生成に失敗しました", err, false, false)
	}
	logger.Infof("JobOperator: JobParametersIncrementer で次の JobParameters を生成しました: %s", next)
	return o.jobLauncher.Launch(ctx, jobName, next)
}

// Restart は JobOperator インターフェースの実装です。
// FAILED または STOPPED の、JobInstance の最新の JobExecution のみ再実行できます。
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*core.JobExecution, error) {
	logger.Infof("JobOperator: JobExecution (ID: %s) を再実行します。", executionID)

	prev, err := o.GetJobExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsRestartable() {
		return nil, exception.NewBatchError(operatorModule,
			fmt.Sprintf("JobExecution (ID: %s) は再起動可能な状態ではありません (現在の状態: %s)", executionID, prev.Status),
			exception.ErrJobRestart, false, false)
	}
	latest, err := o.GetLastJobExecution(ctx, prev.JobInstanceID)
	if err != nil {
		return nil, err
	}
	if latest.ID != prev.ID {
		return nil, exception.NewBatchError(operatorModule,
			fmt.Sprintf("JobExecution (ID: %s) は JobInstance の最新の実行ではありません (最新: %s)", executionID, latest.ID),
			exception.ErrJobRestart, false, false)
	}
	return o.jobLauncher.Launch(ctx, prev.JobName, prev.Parameters)
}

// Stop は JobOperator インターフェースの実装です。
// JobExecution を STOPPING にして保存し、JobLauncher に停止を通知します。
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	je, err := o.GetJobExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if !je.Status.IsRunning() {
		return exception.NewBatchErrorf(operatorModule, "JobExecution (ID: %s) は実行中ではありません (現在の状態: %s)", executionID, je.Status)
	}

	je.Status = core.BatchStatusStopping
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("JobExecution (ID: %s) の更新に失敗しました", executionID), err, exception.IsTemporary(err), false)
	}
	if err := o.jobLauncher.Stop(executionID); err != nil {
		if !errors.Is(err, exception.ErrJobExecutionNotFound) {
			return err
		}
		logger.Warnf("JobOperator: JobExecution (ID: %s) はこのプロセスで実行されていません。STOPPING のみ保存しました。", executionID)
	}
	logger.Infof("JobOperator: JobExecution (ID: %s) を停止しました。", executionID)
	return nil
}

// Abandon は JobOperator インターフェースの実装です。
// STARTING または STARTED の JobExecution は放棄できません。STOPPING は放棄できるため、
// 停止を依頼したまま終了したプロセスの JobExecution も Stop の後に放棄できます。
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	je, err := o.GetJobExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if je.Status == core.BatchStatusStarting || je.Status == core.BatchStatusStarted {
		return exception.NewBatchErrorf(operatorModule, "実行中の JobExecution (ID: %s, 現在の状態: %s) は放棄できません。先に停止してください", executionID, je.Status)
	}
	je.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("JobExecution (ID: %s) の更新に失敗しました", executionID), err, exception.IsTemporary(err), false)
	}
	logger.Infof("JobOperator: JobExecution (ID: %s) を放棄しました。", executionID)
	return nil
}

// GetJobExecution は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) GetJobExecution(ctx context.Context, executionID string) (*core.JobExecution, error) {
	je, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("JobExecution (ID: %s) の取得に失敗しました", executionID), err, false, false)
	}
	return je, nil
}

// GetJobExecutions は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) GetJobExecutions(ctx context.Context, instanceID string) ([]*core.JobExecution, error) {
	inst, err := o.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	executions, err := o.jobRepository.FindJobExecutionsByJobInstance(ctx, inst)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("JobInstance (ID: %s) の JobExecution の取得に失敗しました", instanceID), err, false, false)
	}
	return executions, nil
}

// GetLastJobExecution は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) GetLastJobExecution(ctx context.Context, instanceID string) (*core.JobExecution, error) {
	je, err := o.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("JobInstance (ID: %s) の最新の JobExecution の取得に失敗しました", instanceID), err, false, false)
	}
	return je, nil
}

// GetJobInstance は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) GetJobInstance(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	inst, err := o.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("JobInstance (ID: %s) の取得に失敗しました", instanceID), err, false, false)
	}
	return inst, nil
}

// FindJobInstance は JobOperator インターフェースの実装です。非識別パラメータは検索に影響しません。
func (o *DefaultJobOperator) FindJobInstance(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	key := o.keyGenerator.GenerateKey(jobName, params)
	inst, err := o.jobRepository.FindJobInstanceByJobNameAndKey(ctx, jobName, key)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("JobInstance (JobName: %s, Parameters: %s) の検索に失敗しました", jobName, params), err, false, false)
	}
	return inst, nil
}

// GetJobNames は JobOperator インターフェースの実装です。登録済みのジョブ名を返します。
func (o *DefaultJobOperator) GetJobNames(ctx context.Context) ([]string, error) {
	return o.jobRegistry.GetJobNames(), nil
}

// GetParameters は JobOperator インターフェースの実装です。
func (o *DefaultJobOperator) GetParameters(ctx context.Context, executionID string) (core.JobParameters, error) {
	je, err := o.GetJobExecution(ctx, executionID)
	if err != nil {
		return core.JobParameters{}, err
	}
	return je.Parameters, nil
}
