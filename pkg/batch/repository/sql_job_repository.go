package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tigerroll/jobrestart/pkg/batch/database"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/tx"
	exception "github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// sqlBase は SQL リポジトリ共通の接続とクエリ実行を提供します。
// ctx に SQL トランザクションがあればそのトランザクション上で、なければ接続上でクエリを実行します。
type sqlBase struct {
	db      database.DBConnection
	dialect database.Dialect
}

func (b *sqlBase) executor(ctx context.Context) database.Executor {
	if t, ok := tx.SQLTxFromContext(ctx); ok {
		return t
	}
	return b.db
}

func (b *sqlBase) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.executor(ctx).ExecContext(ctx, b.dialect.Rebind(query), args...)
}

func (b *sqlBase) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.executor(ctx).QueryContext(ctx, b.dialect.Rebind(query), args...)
}

func (b *sqlBase) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.executor(ctx).QueryRowContext(ctx, b.dialect.Rebind(query), args...)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// SQLJobRepository は JobRepository インターフェースの SQL データベース実装です。
// 各リポジトリの具体的な実装を埋め込み、委譲します。
type SQLJobRepository struct {
	dbConnection database.DBConnection
	txManager    *tx.SQLManager

	*SQLJobInstanceRepository
	*SQLJobExecutionRepository
	*SQLStepExecutionRepository
}

// NewSQLJobRepository は新しい SQLJobRepository のインスタンスを作成します。
// 既に確立されたデータベース接続の抽象化と、そのデータベースの Dialect を受け取ります。
func NewSQLJobRepository(dbConn database.DBConnection, dialect database.Dialect) *SQLJobRepository {
	base := &sqlBase{db: dbConn, dialect: dialect}
	instanceRepo := &SQLJobInstanceRepository{sqlBase: base}
	stepRepo := &SQLStepExecutionRepository{sqlBase: base}
	executionRepo := &SQLJobExecutionRepository{sqlBase: base, stepExecutionRepo: stepRepo}

	return &SQLJobRepository{
		dbConnection:               dbConn,
		txManager:                  tx.NewSQLManager(dbConn),
		SQLJobInstanceRepository:   instanceRepo,
		SQLJobExecutionRepository:  executionRepo,
		SQLStepExecutionRepository: stepRepo,
	}
}

var _ job.JobRepository = (*SQLJobRepository)(nil)

// Begin は tx.Manager インターフェースを実装します。
func (r *SQLJobRepository) Begin(ctx context.Context) (context.Context, tx.Transaction, error) {
	return r.txManager.Begin(ctx)
}

// Close はデータベース接続を閉じます。
func (r *SQLJobRepository) Close() error {
	if r.dbConnection != nil {
		if err := r.dbConnection.Close(); err != nil {
			return exception.NewBatchError(repositoryModule, "データベース接続を閉じるのに失敗しました", err, false, false)
		}
		logger.Debugf("Job Repository のデータベース接続を閉じました。")
	}
	return nil
}
