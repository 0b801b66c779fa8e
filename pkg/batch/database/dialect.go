package database

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// Dialect はデータベースごとの SQL の差異を吸収します。
// クエリは ? プレースホルダで記述し、Rebind でデータベースの形式に変換します。
type Dialect interface {
	Name() string
	Rebind(query string) string
	// IsDuplicateKeyError は一意制約違反のエラーであれば true を返します。
	IsDuplicateKeyError(err error) bool
}

// DialectFor はデータベースタイプに対応する Dialect を返します。未知のタイプでは nil, false を返します。
func DialectFor(dbType string) (Dialect, bool) {
	switch strings.ToLower(dbType) {
	case "postgres", "pgx":
		return postgresDialect{}, true
	case "mysql":
		return mysqlDialect{}, true
	case "snowflake":
		return snowflakeDialect{}, true
	default:
		return nil, false
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

// Rebind は ? を $1, $2, ... に置き換えます。
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) IsDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }
func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) IsDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// snowflakeDialect は一意制約を強制しないため、重複はアプリケーション側のロックで防ぎます。
type snowflakeDialect struct{}

func (snowflakeDialect) Name() string { return "snowflake" }
func (snowflakeDialect) Rebind(query string) string { return query }
func (snowflakeDialect) IsDuplicateKeyError(error) bool {
	return false
}
