package repository_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/pkg/database"
)

const testDomain = "acme.com"

var baseTime = time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "workflow.db") + "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := database.New(context.Background(),
		database.WithDataSource(dsn),
		database.WithMaxOpenConns(4),
		database.WithMaxIdleConns(4),
		database.WithSchema(repository.Schema...),
		database.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
