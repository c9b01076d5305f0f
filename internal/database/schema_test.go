package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t.Run("applies every statement in one transaction", func(t *testing.T) {
		mock.ExpectBegin()
		for range migrations {
			mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectCommit()

		assert.NoError(t, Migrate(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		err := Migrate(context.Background(), db)
		assert.ErrorContains(t, err, "migration 0")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := &DBConfig{Host: "db", Port: "5432", User: "market", Password: "secret", Name: "marketplace", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=market password=secret dbname=marketplace sslmode=disable", cfg.DSN())

	cfg.URL = "postgres://market:secret@db/marketplace"
	assert.Equal(t, "postgres://market:secret@db/marketplace", cfg.DSN())
}
