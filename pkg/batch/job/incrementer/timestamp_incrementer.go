package incrementer

import (
	"fmt"
	"time"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// DefaultTimestampKey は TimestampIncrementer のデフォルトのパラメータ名です。
const DefaultTimestampKey = "timestamp"

// TimestampIncrementer はジョブパラメータに識別 LONG パラメータ "timestamp" (Unix ミリ秒) を設定する JobParametersIncrementer の実装です。
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer は新しい TimestampIncrementer のインスタンスを作成します。name が空の場合は "timestamp" を使います。
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = DefaultTimestampKey
	}
	return &TimestampIncrementer{
		name: name,
		now:  time.Now,
	}
}

// GetNext は与えられた JobParameters に現在時刻を追加または更新して返します。
// 前回の値と同じ時刻になった場合は 1 ミリ秒進めます。
func (i *TimestampIncrementer) GetNext(params core.JobParameters) (core.JobParameters, error) {
	timestamp := i.now().UnixMilli()
	if prev, ok := params.GetLong(i.name); ok && timestamp <= prev {
		timestamp = prev + 1
	}
	logger.Debugf("JobParametersIncrementer '%s': '%s' を %d に設定しました。", i, i.name, timestamp)
	return core.NewJobParametersBuilderFrom(params).
		Set(i.name, core.NewLongParameter(timestamp, true)).
		ToJobParameters()
}

// String は TimestampIncrementer の文字列表現を返します。
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ core.JobParametersIncrementer = (*TimestampIncrementer)(nil)
