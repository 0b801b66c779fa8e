package serialization

import (
	"encoding/json"
	"errors"

	core "github.com/tigerroll/jobrestart/pkg/batch/job/core"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

const module = "serialization"

func isEmpty(data []byte) bool {
	return len(data) == 0 || string(data) == "null"
}

// MarshalExecutionContext は ExecutionContext を JSON バイトスライスにシリアライズします。
func MarshalExecutionContext(ec core.ExecutionContext) ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		logger.Errorf("ExecutionContext のシリアライズに失敗しました: %v", err)
		return nil, exception.NewBatchError(module, "ExecutionContext のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext は JSON バイトスライスから ExecutionContext を復元します。
// 空データの場合は空の ExecutionContext を返します。数値は float64 として復元されます。
func UnmarshalExecutionContext(data []byte) (core.ExecutionContext, error) {
	ec := core.NewExecutionContext()
	if isEmpty(data) {
		return ec, nil
	}
	if err := json.Unmarshal(data, &ec); err != nil {
		logger.Errorf("ExecutionContext のデシリアライズに失敗しました: %v", err)
		return nil, exception.NewBatchError(module, "ExecutionContext のデシリアライズに失敗しました", err, false, false)
	}
	return ec, nil
}

// MarshalJobParameters は JobParameters を順序付きの JSON 配列にシリアライズします。
func MarshalJobParameters(params core.JobParameters) ([]byte, error) {
	data, err := json.Marshal(params)
	if err != nil {
		logger.Errorf("JobParameters のシリアライズに失敗しました: %v", err)
		return nil, exception.NewBatchError(module, "JobParameters のシリアライズに失敗しました", err, false, false)
	}
	logger.Debugf("JobParameters をシリアライズしました: %s", params)
	return data, nil
}

// UnmarshalJobParameters は JSON バイトスライスから JobParameters を復元します。
// 値は保存時の型 (STRING, LONG, DOUBLE, DATE) と識別フラグのまま戻ります。
func UnmarshalJobParameters(data []byte) (core.JobParameters, error) {
	if isEmpty(data) {
		return core.NewJobParameters(), nil
	}
	var params core.JobParameters
	if err := json.Unmarshal(data, &params); err != nil {
		logger.Errorf("JobParameters のデシリアライズに失敗しました: %v", err)
		return core.JobParameters{}, exception.NewBatchError(module, "JobParameters のデシリアライズに失敗しました", err, false, false)
	}
	return params, nil
}

// MarshalFailures は []error を JSON バイトスライスにシリアライズします。
// error インターフェースは直接JSON化できないため、エラーメッセージの文字列スライスに変換します。
func MarshalFailures(failures []error) ([]byte, error) {
	msgs := make([]string, len(failures))
	for i, err := range failures {
		msgs[i] = err.Error()
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, exception.NewBatchError(module, "Failures のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures は JSON バイトスライスを []error にデシリアライズします。
// 元のエラー型は失われ、メッセージだけを持つ error になります。
func UnmarshalFailures(data []byte) ([]error, error) {
	if isEmpty(data) {
		return []error{}, nil
	}
	var msgs []string
	if err := json.Unmarshal(data, &msgs); err != nil {
		logger.Errorf("Failures のデシリアライズに失敗しました: %v", err)
		return nil, exception.NewBatchError(module, "Failures のデシリアライズに失敗しました", err, false, false)
	}
	failures := make([]error, len(msgs))
	for i, msg := range msgs {
		failures[i] = errors.New(msg)
	}
	return failures, nil
}
