package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EmbeddedConfig は main.go から渡される埋め込み設定ファイルの内容です。
type EmbeddedConfig []byte

// ConnectionPoolConfig はデータベースコネクションプールの設定を保持します。
type ConnectionPoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime は ConnMaxLifetimeSeconds を time.Duration に変換します。
func (c ConnectionPoolConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// DatabaseConfig は JobRepository が使用するデータベースの設定です。
// Type が "memory" の場合、データベースには接続しません。
type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sslmode  string `yaml:"sslmode"`

	// Snowflake 用
	Account   string `yaml:"account"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`

	// Migrate が true の場合、起動時に JobRepository のテーブルを作成します。
	Migrate        bool                 `yaml:"migrate"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

// IsMemory はインメモリの JobRepository を使う設定かどうかを返します。
func (c DatabaseConfig) IsMemory() bool {
	return c.Type == "" || strings.EqualFold(c.Type, "memory")
}

// ConnectionString はドライバに渡す接続文字列を返します。Snowflake は connector パッケージで組み立てます。
func (c DatabaseConfig) ConnectionString() string {
	switch strings.ToLower(c.Type) {
	case "postgres", "pgx":
		sslmode := c.Sslmode
		if sslmode == "" {
			sslmode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     "/" + c.Database,
			RawQuery: "sslmode=" + url.QueryEscape(sslmode),
		}
		return u.String()
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	default:
		return ""
	}
}

// RestartConfig は再起動時の振る舞いを制御します。
type RestartConfig struct {
	// AllowRestartCompleted が true の場合、COMPLETED になった JobInstance も再実行できます。
	AllowRestartCompleted bool `yaml:"allow_restart_completed"`
}

type BatchConfig struct {
	JobName string        `yaml:"job_name"`
	Restart RestartConfig `yaml:"restart"`
}

// LoggingConfig はログの出力レベルと形式です。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

type Config struct {
	Database       DatabaseConfig `yaml:"database"`
	Batch          BatchConfig    `yaml:"batch"`
	System         SystemConfig   `yaml:"system"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig はデフォルト値が設定された Config を返します。
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:    "memory",
			Migrate: true,
		},
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO", Format: "text"},
		},
	}
}
