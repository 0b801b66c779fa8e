// Package connector はデータベースタイプごとの接続方法を登録し、設定から *sql.DB を作成します。
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tigerroll/jobrestart/pkg/batch/config"
	"github.com/tigerroll/jobrestart/pkg/batch/database"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	"github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// DBConnector は特定のデータベースタイプへの接続を確立するためのインターフェースです。
type DBConnector interface {
	Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error)
}

// DBConnectorFunc は関数を DBConnector として扱うための型です。
type DBConnectorFunc func(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error)

// Connect は DBConnector インターフェースを実装します。
func (f DBConnectorFunc) Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return f(ctx, cfg)
}

var (
	mu         sync.RWMutex
	connectors = make(map[string]DBConnector)
)

// RegisterConnector は指定されたタイプ名で DBConnector を登録します。既に登録されている場合は上書きします。
func RegisterConnector(dbType string, c DBConnector) {
	mu.Lock()
	defer mu.Unlock()
	key := strings.ToLower(dbType)
	if _, exists := connectors[key]; exists {
		logger.Warnf("DBConnector '%s' は既に登録されています。上書きします。", dbType)
	}
	connectors[key] = c
}

// RegisteredTypes は登録済みのデータベースタイプを名前順で返します。
func RegisteredTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(connectors))
	for k := range connectors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetSQLDB は設定に基づいて適切なデータベース接続を確立します。
// 登録されたコネクタの中から適切なものを選択して接続します。
func GetSQLDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	mu.RLock()
	c, ok := connectors[strings.ToLower(cfg.Type)]
	mu.RUnlock()
	if !ok {
		return nil, exception.NewBatchError("database", fmt.Sprintf("未対応のデータベースタイプ: %s", cfg.Type), nil, false, false)
	}
	return c.Connect(ctx, cfg)
}

// NewDBConnectionFromConfig は設定に基づいて接続を確立し、database.DBConnection として返します。
// cfg.Migrate が true の場合は JobRepository のマイグレーションも実行します。
func NewDBConnectionFromConfig(ctx context.Context, cfg config.DatabaseConfig) (database.DBConnection, error) {
	rawDB, err := GetSQLDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := database.RunMigrations(rawDB, cfg.Type); err != nil {
			rawDB.Close()
			return nil, err
		}
	}
	return database.NewSQLDBAdapter(rawDB), nil
}

// openDB はドライバで接続を開き、コネクションプールを設定して Ping で確認します。
func openDB(ctx context.Context, driverName, dsn, label string, pool config.ConnectionPoolConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, exception.NewBatchError("database", label+" への接続に失敗しました", err, false, false)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, exception.NewBatchError("database", label+" への Ping に失敗しました", err, true, false)
	}

	logger.Debugf("%s に正常に接続しました。MaxOpenConns: %d, MaxIdleConns: %d, ConnMaxLifetime: %s",
		label, pool.MaxOpenConns, pool.MaxIdleConns, pool.ConnMaxLifetime())
	return db, nil
}
