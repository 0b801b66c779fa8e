package connector

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/jobrestart/pkg/batch/config"
)

func TestRegisteredTypes(t *testing.T) {
	types := RegisteredTypes()
	for _, want := range []string{"mysql", "pgx", "postgres", "snowflake"} {
		assert.Contains(t, types, want)
	}
}

func TestGetSQLDB_UnknownType(t *testing.T) {
	_, err := GetSQLDB(context.Background(), config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestGetSQLDB_UsesRegisteredConnector(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var got config.DatabaseConfig
	RegisterConnector("fake", DBConnectorFunc(func(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
		got = cfg
		return db, nil
	}))

	out, err := GetSQLDB(context.Background(), config.DatabaseConfig{Type: "FAKE", Host: "h"})
	require.NoError(t, err)
	assert.Same(t, db, out)
	assert.Equal(t, "h", got.Host)

	conn, err := NewDBConnectionFromConfig(context.Background(), config.DatabaseConfig{Type: "fake"})
	require.NoError(t, err)
	assert.NotNil(t, conn)
}

func TestNewDBConnectionFromConfig_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	RegisterConnector("broken", DBConnectorFunc(func(context.Context, config.DatabaseConfig) (*sql.DB, error) {
		return nil, boom
	}))

	_, err := NewDBConnectionFromConfig(context.Background(), config.DatabaseConfig{Type: "broken", Migrate: true})
	assert.ErrorIs(t, err, boom)
}

func TestSnowflakeDSN(t *testing.T) {
	dsn, err := SnowflakeDSN(config.DatabaseConfig{
		Account:   "acme",
		User:      "batch",
		Password:  "secret",
		Database:  "BATCH",
		Schema:    "PUBLIC",
		Warehouse: "WH",
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, "batch:secret@")
	assert.Contains(t, dsn, "acme")
	assert.Contains(t, dsn, "warehouse=WH")

	_, err = SnowflakeDSN(config.DatabaseConfig{User: "batch", Password: "secret"})
	assert.Error(t, err)
}
