package connector

import (
	"context"
	"database/sql"

	"github.com/snowflakedb/gosnowflake"

	"github.com/tigerroll/jobrestart/pkg/batch/config"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
)

// SnowflakeDSN は DatabaseConfig から gosnowflake の接続文字列を組み立てます。
func SnowflakeDSN(cfg config.DatabaseConfig) (string, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	})
	if err != nil {
		return "", exception.NewBatchError("database", "Snowflake の接続文字列の作成に失敗しました", err, false, false)
	}
	return dsn, nil
}

// snowflakeConnector は Snowflake への接続を確立する DBConnector の実装です。
type snowflakeConnector struct{}

// Connect は DBConnector インターフェースを実装します。
func (c *snowflakeConnector) Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := SnowflakeDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openDB(ctx, "snowflake", dsn, "Snowflake", cfg.ConnectionPool)
}

func init() {
	RegisterConnector("snowflake", &snowflakeConnector{})
}
