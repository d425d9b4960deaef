package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockedDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewWithGorm(gdb, "postgres", 30*time.Second), mock
}

// Session must bind the connection to the workspace before any statement
// runs — the hook the row-level-security policies read.
func TestSessionBindsTenantAndTimeout(t *testing.T) {
	db, mock := newMockedDB(t)
	workspaceID := uuid.New()

	mock.ExpectExec(`SET statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT set_config\('app\.workspace_id', \$1, false\)`).
		WithArgs(workspaceID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := db.Session(context.Background(), workspaceID)
	require.NoError(t, err)
	db.Release()

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(0), db.InUse())
}

// WithTenant wraps the binding and the work in one transaction, with SET
// LOCAL so the binding dies with the commit.
func TestWithTenantCommitsPerLogicalOperation(t *testing.T) {
	db, mock := newMockedDB(t)
	workspaceID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT set_config\('app\.workspace_id', \$1, true\)`).
		WithArgs(workspaceID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "conversations" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTenant(context.Background(), workspaceID, func(tx *gorm.DB) error {
		return tx.Exec(`UPDATE "conversations" SET status = 'closed' WHERE workspace_id = '` + workspaceID.String() + `'`).Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failing operation must roll the whole unit back.
func TestWithTenantRollsBackOnError(t *testing.T) {
	db, mock := newMockedDB(t)
	workspaceID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT set_config\('app\.workspace_id', \$1, true\)`).
		WithArgs(workspaceID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	sentinel := assert.AnError
	err := db.WithTenant(context.Background(), workspaceID, func(tx *gorm.DB) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}
