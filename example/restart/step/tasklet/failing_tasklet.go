package tasklet

import (
	"context"
	"fmt"
	"io"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// FailingTasklet は "Running step" を出力した後、必ず失敗する Tasklet です。
// リスタート時のパラメータの扱いを確認するために使います。
type FailingTasklet struct {
	out io.Writer
}

var _ core.Tasklet = (*FailingTasklet)(nil)

// NewFailingTasklet は新しい FailingTasklet のインスタンスを作成します。
func NewFailingTasklet(out io.Writer) *FailingTasklet {
	return &FailingTasklet{out: out}
}

// Execute は core.Tasklet インターフェースを実装します。
func (t *FailingTasklet) Execute(ctx context.Context, contribution *core.StepContribution) (core.ExitStatus, error) {
	stepName := contribution.StepExecution.StepName
	fmt.Fprintln(t.out, "Running step")
	logger.Debugf("FailingTasklet '%s' が実行されました。", stepName)
	return core.ExitStatusFailed, exception.NewBatchErrorf("failing_tasklet", "FailingTasklet '%s' 意図的な失敗", stepName)
}
