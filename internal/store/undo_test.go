package store_test

import (
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"coffer/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// failCatalogWrites installs triggers that abort every insert into and
// update of the objects table, through a second connection to the catalog.
func failCatalogWrites(t *testing.T, dataDir string) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(dataDir, store.CatalogFile)+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(t.Context(), `
		CREATE TRIGGER fail_object_insert BEFORE INSERT ON objects
		BEGIN SELECT RAISE(ABORT, 'catalog write refused'); END;
		CREATE TRIGGER fail_object_update BEFORE UPDATE ON objects
		BEGIN SELECT RAISE(ABORT, 'catalog write refused'); END;`)
	require.NoError(t, err, "installing triggers")
}

func TestFailedOverwriteRestoresPreviousPayload(t *testing.T) {
	t.Parallel()

	s, dataDir := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateBucket(ctx, "docs"))
	_, err := s.PutObject(ctx, "docs", "a.txt", []byte("v1"), store.PutOptions{})
	require.NoError(t, err)

	failCatalogWrites(t, dataDir)

	_, err = s.PutObject(ctx, "docs", "a.txt", []byte("v2"), store.PutOptions{})
	require.Error(t, err, "overwrite must fail when the catalog refuses the row")

	obj, err := s.GetObject(ctx, "docs", "a.txt")
	require.NoError(t, err, "previous object must stay readable")
	require.Equal(t, "v1", string(obj.Data))
	require.Equal(t, store.Hash([]byte("v1")), obj.Hash)

	entries, err := os.ReadDir(filepath.Join(dataDir, "buckets", "docs"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no snapshot file left behind")

	require.NoError(t, s.CheckConsistency(ctx))
}

func TestFailedPutOfNewKeyLeavesNoPayload(t *testing.T) {
	t.Parallel()

	s, dataDir := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateBucket(ctx, "docs"))
	failCatalogWrites(t, dataDir)

	_, err := s.PutObject(ctx, "docs", "new/b.txt", []byte("fresh"), store.PutOptions{})
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dataDir, "buckets", "docs", "new", "b.txt"))
	require.ErrorIs(t, err, fs.ErrNotExist, "payload of the failed put must be removed")

	_, err = s.GetObject(ctx, "docs", "new/b.txt")
	require.ErrorIs(t, err, store.ErrObjectNotFound)

	require.NoError(t, s.CheckConsistency(ctx))
}
