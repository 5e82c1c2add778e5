// Package repotest opens throwaway SQLite databases migrated with the production schema.
package repotest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDriver returns a migrated SQLite driver living in t.TempDir.
// A single connection keeps concurrent statements serialized like row locks would.
func NewDriver(t *testing.T) *entsql.Driver {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "receipts.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	drv := repository.OpenSQL(db, dialect.SQLite)
	require.NoError(t, repository.Migrate(context.Background(), drv, Logger()))
	t.Cleanup(func() { _ = drv.Close() })
	return drv
}
