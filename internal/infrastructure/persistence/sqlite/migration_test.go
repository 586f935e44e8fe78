package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_NewDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "asw.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)

	for _, table := range []string{"run_locks", "workflows"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	require.NoError(t, Migrate(ctx, db))
	_, err = db.Exec(`INSERT INTO workflows (workflow_id, issue_reference, updated_at) VALUES ('abc12345', '#1', 'now')`)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM workflows").Scan(&count))
	assert.Equal(t, 1, count, "a second run must not touch existing data")
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion+1))
	require.NoError(t, err)

	err = Migrate(context.Background(), db)
	assert.ErrorContains(t, err, "newer than this binary")
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- comment\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "asw.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM workflows").Scan(&n))
	assert.Zero(t, n)
}
