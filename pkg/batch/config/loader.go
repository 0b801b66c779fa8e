package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/jobrestart/pkg/batch/util/exception"
	"github.com/tigerroll/jobrestart/pkg/batch/util/logger"
)

// ConfigLoader は Config を読み込むためのインターフェースです。
type ConfigLoader interface {
	Load() (*Config, error)
}

// BytesConfigLoader はバイトスライスから設定をロードする ConfigLoader の実装です。
type BytesConfigLoader struct {
	data []byte
}

// NewBytesConfigLoader は新しい BytesConfigLoader のインスタンスを作成します。
func NewBytesConfigLoader(data []byte) *BytesConfigLoader {
	return &BytesConfigLoader{data: data}
}

// Load は埋め込まれたバイトスライスから設定をロードし、環境変数で上書きします。
// YAML に書かれていない項目は NewConfig のデフォルト値のままです。
func (l *BytesConfigLoader) Load() (*Config, error) {
	cfg := NewConfig()
	if len(l.data) > 0 {
		if err := yaml.Unmarshal(l.data, cfg); err != nil {
			return nil, exception.NewBatchError("config", "YAML設定のパースに失敗しました", err, false, false)
		}
	}
	cfg.EmbeddedConfig = l.data

	loadEnvVars(cfg)
	return cfg, nil
}

// FileConfigLoader はファイルから設定をロードします。
type FileConfigLoader struct {
	path string
}

// NewFileConfigLoader は新しい FileConfigLoader を作成します。
func NewFileConfigLoader(path string) *FileConfigLoader {
	return &FileConfigLoader{path: path}
}

// Load は ConfigLoader インターフェースを実装します。
func (l *FileConfigLoader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, exception.NewBatchError("config", fmt.Sprintf("設定ファイル '%s' の読み込みに失敗しました", l.path), err, false, false)
	}
	return NewBytesConfigLoader(data).Load()
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warnf("%s の値 '%s' が無効です。デフォルト値または設定ファイルの値を使用します。", key, v)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warnf("%s の値 '%s' が無効です。デフォルト値または設定ファイルの値を使用します。", key, v)
		return
	}
	*dst = b
}

// 環境変数で個別の設定値を上書きする関数
func loadEnvVars(cfg *Config) {
	// Database 設定
	envString("DATABASE_TYPE", &cfg.Database.Type)
	envString("DATABASE_HOST", &cfg.Database.Host)
	envInt("DATABASE_PORT", &cfg.Database.Port)
	envString("DATABASE_DATABASE", &cfg.Database.Database)
	envString("DATABASE_USER", &cfg.Database.User)
	envString("DATABASE_PASSWORD", &cfg.Database.Password)
	envString("DATABASE_SSLMODE", &cfg.Database.Sslmode)
	envString("DATABASE_ACCOUNT", &cfg.Database.Account)
	envString("DATABASE_SCHEMA", &cfg.Database.Schema)
	envString("DATABASE_WAREHOUSE", &cfg.Database.Warehouse)
	envString("DATABASE_ROLE", &cfg.Database.Role)
	envBool("DATABASE_MIGRATE", &cfg.Database.Migrate)
	envInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.ConnectionPool.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.ConnectionPool.MaxIdleConns)
	envInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", &cfg.Database.ConnectionPool.ConnMaxLifetimeSeconds)

	// Batch 設定
	envString("BATCH_JOB_NAME", &cfg.Batch.JobName)
	envBool("BATCH_ALLOW_RESTART_COMPLETED", &cfg.Batch.Restart.AllowRestartCompleted)

	// System 設定
	envString("SYSTEM_TIMEZONE", &cfg.System.Timezone)
	envString("SYSTEM_LOGGING_LEVEL", &cfg.System.Logging.Level)
	envString("SYSTEM_LOGGING_FORMAT", &cfg.System.Logging.Format)
}
