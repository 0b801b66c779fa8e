package connector

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL ドライバ

	"github.com/tigerroll/jobrestart/pkg/batch/config"
)

// mysqlConnector は MySQL データベースへの接続を確立する DBConnector の実装です。
// 時刻列を time.Time として読むため、接続文字列には parseTime=true が含まれます。
type mysqlConnector struct{}

// Connect は DBConnector インターフェースを実装します。
func (c *mysqlConnector) Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDB(ctx, "mysql", cfg.ConnectionString(), "MySQL", cfg.ConnectionPool)
}

func init() {
	RegisterConnector("mysql", &mysqlConnector{})
}
