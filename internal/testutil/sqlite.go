// Package testutil provides a migrated SQLite database for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/garyjia/approval-coordinator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-coordinator/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewDB opens a fresh database file under t.TempDir and applies all migrations
func NewDB(t *testing.T) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "approval.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run()
	require.NoError(t, err)

	return sqlite.NewDB(db.DB, logger)
}

// Seed inserts users and a business request through plain SQL
func Seed(t *testing.T, db *sqlite.DB, businessRequestIDs []int64, userIDs ...int64) {
	t.Helper()

	for _, id := range userIDs {
		_, err := db.Exec(`INSERT OR IGNORE INTO users (id, name) VALUES (?, ?)`, id, "user")
		require.NoError(t, err)
	}
	for _, id := range businessRequestIDs {
		_, err := db.Exec(`INSERT OR IGNORE INTO business_requests (id, kind) VALUES (?, 'leave')`, id)
		require.NoError(t, err)
	}
}
