package repository

import (
	"context"
	"fmt"

	"github.com/tigerroll/jobrestart/pkg/batch/config"
	"github.com/tigerroll/jobrestart/pkg/batch/database"
	"github.com/tigerroll/jobrestart/pkg/batch/database/connector"
	"github.com/tigerroll/jobrestart/pkg/batch/repository/job"
	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	logger "github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// NewJobRepository は設定に基づいて JobRepository のインスタンスを作成します。
// database.type が memory (または未指定) の場合は MemoryJobRepository、それ以外は SQLJobRepository を返します。
func NewJobRepository(ctx context.Context, cfg config.Config) (job.JobRepository, error) {
	module := "repository_factory"
	logger.Debugf("JobRepository の生成を開始します (Type: %s).", cfg.Database.Type)

	if cfg.Database.IsMemory() {
		logger.Debugf("MemoryJobRepository を生成しました。")
		return NewMemoryJobRepository(), nil
	}

	dialect, ok := database.DialectFor(cfg.Database.Type)
	if !ok {
		return nil, exception.NewBatchError(module, fmt.Sprintf("未対応のデータベースタイプ: %s", cfg.Database.Type), nil, false, false)
	}

	dbConn, err := connector.NewDBConnectionFromConfig(ctx, cfg.Database)
	if err != nil {
		logger.Errorf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s): %v", cfg.Database.Type, err)
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s)", cfg.Database.Type), err, exception.IsTemporary(err), false)
	}

	logger.Debugf("SQLJobRepository を生成しました (Dialect: %s)。", dialect.Name())
	return NewSQLJobRepository(dbConn, dialect), nil
}
