package exception

import (
	"errors"
	"fmt"
)

// ErrNotFound は検索対象が存在しないことを表す共通のエラーです。
// 個別の NotFound 系エラーはすべてこれをラップしているため、errors.Is(err, ErrNotFound) で判定できます。
var ErrNotFound = errors.New("not found")

var (
	ErrParameterNotFound     = fmt.Errorf("job parameter %w", ErrNotFound)
	ErrJobInstanceNotFound   = fmt.Errorf("job instance %w", ErrNotFound)
	ErrJobExecutionNotFound  = fmt.Errorf("job execution %w", ErrNotFound)
	ErrStepExecutionNotFound = fmt.Errorf("step execution %w", ErrNotFound)
	ErrJobNotFound           = fmt.Errorf("job %w", ErrNotFound)
)

var (
	// ErrDuplicateKey は同じ (ジョブ名, ジョブキー) の JobInstance が既に存在する場合に返されます。
	// 呼び出し側は検索をやり直してください。
	ErrDuplicateKey = errors.New("duplicate job instance key")

	// ErrInvalidParameter はパラメータ名が空など、JobParameters に追加できない値です。
	ErrInvalidParameter = errors.New("invalid job parameter")

	// ErrDuplicateParameter は同じ名前のパラメータが 1 つの JobParameters に 2 回追加された場合に返されます。
	ErrDuplicateParameter = errors.New("duplicate job parameter name")

	// ErrInvalidJobParameters は JobParametersValidator による検証エラーです。
	ErrInvalidJobParameters = errors.New("invalid job parameters")

	// ErrJobInstanceAlreadyComplete は COMPLETED 済みの JobInstance を再起動しようとした場合に返されます。
	ErrJobInstanceAlreadyComplete = errors.New("job instance already complete")

	// ErrJobExecutionAlreadyRunning は同じ JobInstance の JobExecution が実行中の場合に返されます。
	ErrJobExecutionAlreadyRunning = errors.New("job execution already running")

	// ErrJobRestart は JobInstance が再起動できない状態 (ABANDONED、再起動不可のジョブ) の場合に返されます。
	ErrJobRestart = errors.New("job instance is not restartable")

	// ErrStepFailed は StepFailedError の判定用です。
	ErrStepFailed = errors.New("step failed")
)

// StepFailedError はステップの処理 (Tasklet) が失敗したことを表します。
// 元のエラーは Err に保持され、errors.Unwrap で取り出せます。
type StepFailedError struct {
	StepName        string
	StepExecutionID string
	Err             error
}

// NewStepFailedError は新しい StepFailedError を作成します。
func NewStepFailedError(stepName, stepExecutionID string, err error) *StepFailedError {
	return &StepFailedError{
		StepName:        stepName,
		StepExecutionID: stepExecutionID,
		Err:             err,
	}
}

func (e *StepFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("step '%s' (execution %s) failed", e.StepName, e.StepExecutionID)
	}
	return fmt.Sprintf("step '%s' (execution %s) failed: %v", e.StepName, e.StepExecutionID, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// Is は errors.Is(err, ErrStepFailed) を満たすために実装しています。
func (e *StepFailedError) Is(target error) bool {
	return target == ErrStepFailed
}
