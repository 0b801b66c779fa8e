package job

import (
	"github.com/tigerroll/jobrestart/pkg/batch/tx"
)

// JobRepository はバッチ実行に関するメタデータを永続化・管理するためのインターフェースです。
// 複数のより小さなリポジトリインターフェースを埋め込むことで、責務を分割します。
// tx.Manager で開始したトランザクションを含む context を渡すと、書き込みはそのトランザクションに参加します。
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	tx.Manager

	// Close はリポジトリが使用するリソース (データベース接続など) を解放します。
	Close() error
}
