package incrementer

import (
	"fmt"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// DefaultRunIDKey は RunIDIncrementer のデフォルトのパラメータ名です。
const DefaultRunIDKey = "run.id"

// RunIDIncrementer はジョブパラメータに識別 LONG パラメータ "run.id" を追加またはインクリメントする JobParametersIncrementer の実装です。
// "run.id" が存在しない場合は 1 を設定し、存在する場合はその値をインクリメントします。
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer は新しい RunIDIncrementer のインスタンスを作成します。name が空の場合は "run.id" を使います。
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = DefaultRunIDKey
	}
	return &RunIDIncrementer{
		name: name,
	}
}

// GetNext は与えられた JobParameters に "run.id" を追加またはインクリメントして返します。
// 他のパラメータは識別フラグを含めてそのままコピーされます。
func (i *RunIDIncrementer) GetNext(params core.JobParameters) (core.JobParameters, error) {
	next := int64(1)
	if current, ok := params.GetLong(i.name); ok {
		next = current + 1
		logger.Debugf("JobParametersIncrementer '%s': '%s' を %d から %d にインクリメントしました。", i, i.name, current, next)
	} else {
		logger.Debugf("JobParametersIncrementer '%s': '%s' が見つからないため、1 を設定しました。", i, i.name)
	}
	return core.NewJobParametersBuilderFrom(params).
		Set(i.name, core.NewLongParameter(next, true)).
		ToJobParameters()
}

// String は RunIDIncrementer の文字列表現を返します。
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ core.JobParametersIncrementer = (*RunIDIncrementer)(nil)
