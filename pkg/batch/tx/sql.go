package tx

import (
	"context"

	"github.com/tigerroll/jobrestart/pkg/batch/database"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	"github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// SQLTransaction は database.Tx を Transaction として扱うための実装です。
type SQLTransaction struct {
	Synchronizations
	Tx database.Tx
}

// Commit は database.Tx をコミットし、登録された関数を呼び出します。
func (t *SQLTransaction) Commit() error {
	if t.Done() {
		return ErrTransactionClosed
	}
	if err := t.Tx.Commit(); err != nil {
		_ = t.Complete(false)
		return exception.NewBatchError("tx", "トランザクションのコミットに失敗しました", err, exception.IsTemporary(err), false)
	}
	return t.Complete(true)
}

// Rollback は database.Tx をロールバックします。
func (t *SQLTransaction) Rollback() error {
	if t.Done() {
		return ErrTransactionClosed
	}
	err := t.Tx.Rollback()
	if cerr := t.Complete(false); err == nil {
		err = cerr
	}
	if err != nil {
		return exception.NewBatchError("tx", "トランザクションのロールバックに失敗しました", err, false, false)
	}
	return nil
}

// SQLManager は database.DBConnection 上でトランザクションを開始する Manager です。
type SQLManager struct {
	db database.DBConnection
}

// NewSQLManager は新しい SQLManager を作成します。
func NewSQLManager(db database.DBConnection) *SQLManager {
	return &SQLManager{db: db}
}

// Begin は Manager インターフェースを実装します。
func (m *SQLManager) Begin(ctx context.Context) (context.Context, Transaction, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, exception.NewBatchError("tx", "トランザクションの開始に失敗しました", err, exception.IsTemporary(err), false)
	}
	t := &SQLTransaction{Tx: sqlTx}
	logger.Debugf("SQL トランザクションを開始しました。")
	return WithTransaction(ctx, t), t, nil
}

// SQLTxFromContext は ctx に SQLTransaction が含まれていれば、その database.Tx を返します。
func SQLTxFromContext(ctx context.Context) (database.Tx, bool) {
	t, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	st, ok := t.(*SQLTransaction)
	if !ok || st.Done() {
		return nil, false
	}
	return st.Tx, true
}
