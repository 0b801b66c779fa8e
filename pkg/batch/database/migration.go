package database

import (
	"database/sql"
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesnowflake "github.com/golang-migrate/migrate/v4/database/snowflake"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	"github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// MigrationsTable はフレームワークのマイグレーション履歴を記録するテーブル名です。
const MigrationsTable = "batch_schema_migrations"

//go:embed migrations
var migrationFS embed.FS

// RunMigrations は JobRepository のテーブルを作成するマイグレーションを実行します。
// dbType: データベースの種類 ("postgres", "pgx", "mysql", "snowflake")
func RunMigrations(db *sql.DB, dbType string) error {
	dir, driver, err := migrationDriver(db, dbType)
	if err != nil {
		return err
	}
	logger.Infof("データベースマイグレーションを開始します。DBタイプ: %s", dbType)

	src, err := iofs.New(migrationFS, "migrations/"+dir)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションソースの読み込みに失敗しました", err, false, false)
	}
	m, err := migrate.NewWithInstance("iofs", src, dir, driver)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションインスタンスの作成に失敗しました", err, false, false)
	}

	if err = m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("マイグレーションは不要です。データベースは最新の状態です。")
			return nil
		}
		return exception.NewBatchError("migration", "マイグレーションの実行に失敗しました", err, false, false)
	}

	logger.Infof("データベースマイグレーションが正常に完了しました。")
	return nil
}

func migrationDriver(db *sql.DB, dbType string) (string, migratedb.Driver, error) {
	var (
		dir    string
		driver migratedb.Driver
		err    error
	)
	switch strings.ToLower(dbType) {
	case "postgres", "pgx":
		dir = "postgres"
		driver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		dir = "mysql"
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{MigrationsTable: MigrationsTable})
	case "snowflake":
		dir = "snowflake"
		driver, err = migratesnowflake.WithInstance(db, &migratesnowflake.Config{MigrationsTable: MigrationsTable})
	default:
		return "", nil, exception.NewBatchErrorf("migration", "サポートされていないデータベースタイプ: %s", dbType)
	}
	if err != nil {
		return "", nil, exception.NewBatchError("migration", "マイグレーションドライバの作成に失敗しました", err, false, false)
	}
	return dir, driver, nil
}
