package runner

import (
	"context"
	"errors"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// SimpleJob はステップを宣言順に実行する core.Job の実装です。
// いずれかのステップが失敗した時点で実行を止め、JobExecution を FAILED にします。
type SimpleJob struct {
	name          string
	steps         []core.Step
	jobRepository job.JobRepository
	jobListeners  []core.JobExecutionListener
	restartable   bool
	validator     core.JobParametersValidator
	incrementer   core.JobParametersIncrementer
}

// SimpleJob が core.Job インターフェースを満たすことを確認します。
var _ core.Job = (*SimpleJob)(nil)

// NewSimpleJob は新しい SimpleJob のインスタンスを作成します。作成直後のジョブは再起動可能です。
func NewSimpleJob(
	name string,
	jobRepository job.JobRepository,
	steps []core.Step,
	jobListeners []core.JobExecutionListener,
) *SimpleJob {
	return &SimpleJob{
		name:          name,
		steps:         steps,
		jobRepository: jobRepository,
		jobListeners:  jobListeners,
		restartable:   true,
	}
}

// WithRestartable はジョブの再起動可否を設定します。
func (j *SimpleJob) WithRestartable(restartable bool) *SimpleJob {
	j.restartable = restartable
	return j
}

// WithValidator は起動時に使う JobParametersValidator を設定します。
func (j *SimpleJob) WithValidator(v core.JobParametersValidator) *SimpleJob {
	j.validator = v
	return j
}

// WithIncrementer は StartNextInstance で使う JobParametersIncrementer を設定します。
func (j *SimpleJob) WithIncrementer(inc core.JobParametersIncrementer) *SimpleJob {
	j.incrementer = inc
	return j
}

// JobName はジョブ名を返します。
func (j *SimpleJob) JobName() string {
	return j.name
}

// Steps は登録されたステップを返します。
func (j *SimpleJob) Steps() []core.Step {
	return append([]core.Step(nil), j.steps...)
}

// IsRestartable は core.Job インターフェースの実装です。
func (j *SimpleJob) IsRestartable() bool {
	return j.restartable
}

// JobParametersIncrementer は core.Job インターフェースの実装です。
func (j *SimpleJob) JobParametersIncrementer() core.JobParametersIncrementer {
	return j.incrementer
}

// ValidateParameters はジョブパラメータのバリデーションを行います。Validator が未設定の場合は常に nil を返します。
func (j *SimpleJob) ValidateParameters(params core.JobParameters) error {
	if j.validator == nil {
		return nil
	}
	logger.Debugf("ジョブ '%s': JobParameters のバリデーションを実行します。Parameters: %s", j.name, params)
	return j.validator.Validate(params)
}

func (j *SimpleJob) notifyBeforeJob(ctx context.Context, jobExecution *core.JobExecution) {
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
}

func (j *SimpleJob) notifyAfterJob(ctx context.Context, jobExecution *core.JobExecution) {
	for _, l := range j.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}
}

// Run はステップを順番に実行します。
// ステップの失敗は *exception.StepFailedError として返され、jobExecution は FAILED になります。
// ctx がキャンセルされた場合、または保存済みの状態が STOPPING になった場合はステップの間で実行を止め、
// jobExecution を STOPPED にして nil を返します。
// 最終状態の永続化は呼び出し側 (JobLauncher) が行います。
func (j *SimpleJob) Run(ctx context.Context, jobExecution *core.JobExecution) error {
	logger.Infof("ジョブ '%s' (Execution ID: %s) を開始します。", j.name, jobExecution.ID)

	j.notifyBeforeJob(ctx, jobExecution)
	defer func() {
		j.notifyAfterJob(ctx, jobExecution)
		logger.Infof("ジョブ '%s' (Execution ID: %s) が終了しました。最終ステータス: %s, 終了ステータス: %s",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	}()

	// ステップの実行と永続化はキャンセルの影響を受けない。キャンセルはステップの間でのみ確認する。
	stepCtx := context.WithoutCancel(ctx)
	for _, st := range j.steps {
		select {
		case <-ctx.Done():
			logger.Warnf("Context がキャンセルされたため、ジョブ '%s' の実行を中断します: %v", j.name, ctx.Err())
			jobExecution.AddFailureException(ctx.Err())
			jobExecution.MarkAsStopped()
			return nil
		default:
		}

		stopping, err := j.stopRequested(stepCtx, jobExecution)
		if err != nil {
			jobExecution.MarkAsFailed(err)
			return err
		}
		if stopping {
			logger.Warnf("JobExecution (ID: %s) に停止が要求されたため、ジョブ '%s' の実行を中断します。", jobExecution.ID, j.name)
			jobExecution.MarkAsStopped()
			return nil
		}

		skip, err := j.shouldSkip(stepCtx, jobExecution, st)
		if err != nil {
			jobExecution.MarkAsFailed(err)
			return err
		}
		if skip {
			logger.Infof("ジョブ '%s': ステップ '%s' は前回の実行で完了済みのためスキップします。", j.name, st.StepName())
			continue
		}

		if err := j.executeStep(stepCtx, jobExecution, st); err != nil {
			jobExecution.MarkAsFailed(err)
			return err
		}
	}

	jobExecution.MarkAsCompleted()
	return nil
}

// stopRequested は保存済みの JobExecution が STOPPING かどうかを返します。
// 他のプロセスの JobOperator.Stop は STOPPING を保存するだけなので、ステップの前に確認します。
func (j *SimpleJob) stopRequested(ctx context.Context, jobExecution *core.JobExecution) (bool, error) {
	stored, err := j.jobRepository.FindJobExecutionByID(ctx, jobExecution.ID)
	if err != nil {
		return false, exception.NewBatchError(j.name, "JobExecution の状態の取得に失敗しました", err, exception.IsTemporary(err), false)
	}
	return stored.Status == core.BatchStatusStopping, nil
}

// shouldSkip は、同じ JobInstance の未完了の実行で既に COMPLETED になったステップであれば true を返します。
// 直前の実行自体が COMPLETED の場合 (完了済みインスタンスの強制再実行) はスキップしません。
func (j *SimpleJob) shouldSkip(ctx context.Context, jobExecution *core.JobExecution, st core.Step) (bool, error) {
	if st.AllowStartIfComplete() {
		return false, nil
	}
	last, err := j.jobRepository.FindLastStepExecution(ctx, jobExecution.JobInstanceID, st.StepName())
	if err != nil {
		if errors.Is(err, exception.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if last.JobExecutionID == jobExecution.ID || last.Status != core.BatchStatusCompleted {
		return false, nil
	}
	owner, err := j.jobRepository.FindJobExecutionByID(ctx, last.JobExecutionID)
	if err != nil {
		return false, err
	}
	return owner.Status != core.BatchStatusCompleted, nil
}

func (j *SimpleJob) executeStep(ctx context.Context, jobExecution *core.JobExecution, st core.Step) error {
	jobExecution.CurrentStepName = st.StepName()
	if err := j.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(j.name, "JobExecution の更新に失敗しました", err, exception.IsTemporary(err), false)
	}

	stepExecution := core.NewStepExecution(jobExecution, st.StepName())
	if err := j.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
		return exception.NewBatchError(j.name, "StepExecution の保存に失敗しました", err, exception.IsTemporary(err), false)
	}

	logger.Debugf("ジョブ '%s': ステップ '%s' を実行します。", j.name, st.StepName())
	return st.Execute(ctx, jobExecution, stepExecution)
}
