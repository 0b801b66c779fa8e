package connector

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx の database/sql ドライバ ("pgx")
	_ "github.com/lib/pq"              // PostgreSQL ドライバ ("postgres")

	"github.com/tigerroll/jobrestart/pkg/batch/config"
)

// connectPostgres は lib/pq ドライバで PostgreSQL に接続します。
func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDB(ctx, "postgres", cfg.ConnectionString(), "PostgreSQL", cfg.ConnectionPool)
}

// connectPgx は pgx の stdlib ドライバで PostgreSQL に接続します。URL 形式の接続文字列は共通です。
func connectPgx(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDB(ctx, "pgx", cfg.ConnectionString(), "PostgreSQL (pgx)", cfg.ConnectionPool)
}

func init() {
	RegisterConnector("postgres", DBConnectorFunc(connectPostgres))
	RegisterConnector("pgx", DBConnectorFunc(connectPgx))
}
