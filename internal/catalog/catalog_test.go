package catalog_test

import (
	"errors"
	"path/filepath"
	"testing"

	"coffer/internal/catalog"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.Open(t.Context(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func testRow(bucket string, key string) catalog.ObjectRow {
	return catalog.ObjectRow{
		Bucket:       bucket,
		Key:          key,
		Location:     "buckets/" + bucket + "/" + key,
		ContentType:  "text/plain",
		Hash:         "5d41402abc4b2a76b9719d911017c592",
		Size:         5,
		LastModified: 1700000000,
		MetadataJSON: `{"owner":"alice"}`,
	}
}

func TestCreateBucketOnce(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	exists, err := c.BucketExists(ctx, "docs")
	require.NoError(t, err)
	require.False(t, exists, "bucket should not exist yet")

	require.NoError(t, c.CreateBucket(ctx, "docs"), "first CreateBucket")

	exists, err = c.BucketExists(ctx, "docs")
	require.NoError(t, err)
	require.True(t, exists, "bucket should exist after CreateBucket")

	err = c.CreateBucket(ctx, "docs")
	require.ErrorIs(t, err, catalog.ErrBucketExists, "second CreateBucket")
}

func TestBucketNamesAreCaseSensitive(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	require.NoError(t, c.CreateBucket(ctx, "Docs"), "names differing in case are distinct")

	buckets, err := c.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
}

func TestListBuckets(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, c.CreateBucket(ctx, name))
	}

	buckets, err := c.ListBuckets(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
		require.NotZero(t, b.CreatedAt, "created_at should be recorded")
	}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestDeleteBucketCascades(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	require.NoError(t, c.UpsertObject(ctx, testRow("docs", "a.txt")))
	require.NoError(t, c.UpsertObject(ctx, testRow("docs", "b.txt")))

	require.NoError(t, c.DeleteBucket(ctx, "docs"), "DeleteBucket error")

	count, err := c.CountObjects(ctx, "docs")
	require.NoError(t, err)
	require.Zero(t, count, "object rows should be removed by cascade")

	_, err = c.GetObject(ctx, "docs", "a.txt")
	require.ErrorIs(t, err, catalog.ErrObjectNotFound)

	err = c.DeleteBucket(ctx, "docs")
	require.ErrorIs(t, err, catalog.ErrBucketNotFound, "deleting a missing bucket")
}

func TestUpsertAndGetObject(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	want := testRow("docs", "a.txt")
	require.NoError(t, c.UpsertObject(ctx, want), "UpsertObject error")

	got, err := c.GetObject(ctx, "docs", "a.txt")
	require.NoError(t, err, "GetObject error")
	require.Equal(t, want, got, "row round-trip")

	// Replacing keeps a single row and updates every column.
	want.Hash = "0cc175b9c0f1b6a831c399e269772661"
	want.Size = 1
	want.ContentType = ""
	want.MetadataJSON = ""
	require.NoError(t, c.UpsertObject(ctx, want), "second UpsertObject error")

	got, err = c.GetObject(ctx, "docs", "a.txt")
	require.NoError(t, err)
	require.Equal(t, want, got, "row after replace")

	keys, err := c.ListObjectKeys(ctx, "docs")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, keys, "key listed exactly once")
}

func TestUpsertEnsuresBucket(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.UpsertObject(ctx, testRow("implicit", "a.txt")))

	exists, err := c.BucketExists(ctx, "implicit")
	require.NoError(t, err)
	require.True(t, exists, "upsert should create the bucket row")
}

func TestBlobLocationIsUnique(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	require.NoError(t, c.UpsertObject(ctx, testRow("docs", "a.txt")))

	dup := testRow("docs", "b.txt")
	dup.Location = "buckets/docs/a.txt"
	require.Error(t, c.UpsertObject(ctx, dup), "two rows must not share a blob location")

	_, err := c.GetObject(ctx, "docs", "b.txt")
	require.ErrorIs(t, err, catalog.ErrObjectNotFound, "failed upsert must leave no row behind")
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	require.NoError(t, c.UpsertObject(ctx, testRow("docs", "a.txt")))

	location, removed, err := c.DeleteObject(ctx, "docs", "a.txt")
	require.NoError(t, err)
	require.True(t, removed, "first delete removes the row")
	require.Equal(t, "buckets/docs/a.txt", location, "location returned for cleanup")

	location, removed, err = c.DeleteObject(ctx, "docs", "a.txt")
	require.NoError(t, err)
	require.False(t, removed, "second delete finds nothing")
	require.Empty(t, location)
}

func TestListObjects(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	for _, key := range []string{"a/1.txt", "a/2.txt", "A/3.txt", "b/1.txt", "a%/x.txt"} {
		require.NoError(t, c.UpsertObject(ctx, testRow("docs", key)))
	}

	tests := []struct {
		name string
		opts catalog.ListOptions
		want []string
	}{
		{name: "all", opts: catalog.ListOptions{}, want: []string{"A/3.txt", "a%/x.txt", "a/1.txt", "a/2.txt", "b/1.txt"}},
		{name: "prefix is case sensitive", opts: catalog.ListOptions{Prefix: "a/"}, want: []string{"a/1.txt", "a/2.txt"}},
		{name: "prefix with wildcard character", opts: catalog.ListOptions{Prefix: "a%"}, want: []string{"a%/x.txt"}},
		{name: "after", opts: catalog.ListOptions{After: "a/1.txt"}, want: []string{"a/2.txt", "b/1.txt"}},
		{name: "limit", opts: catalog.ListOptions{Limit: 2}, want: []string{"A/3.txt", "a%/x.txt"}},
		{name: "prefix after limit", opts: catalog.ListOptions{Prefix: "a/", After: "a/1.txt", Limit: 5}, want: []string{"a/2.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := c.ListObjects(ctx, "docs", tt.opts)
			require.NoError(t, err)

			keys := make([]string, 0, len(rows))
			for _, r := range rows {
				keys = append(keys, r.Key)
			}
			require.Equal(t, tt.want, keys)
		})
	}
}

func TestScanObjectsStopsAtFirstError(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	ctx := t.Context()

	require.NoError(t, c.CreateBucket(ctx, "docs"))
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.UpsertObject(ctx, testRow("docs", key)))
	}

	var seen []string
	require.NoError(t, c.ScanObjects(ctx, func(row catalog.ObjectRow) error {
		seen = append(seen, row.Key)
		return nil
	}))
	require.Equal(t, []string{"a", "b", "c"}, seen, "full scan")

	stop := errors.New("stop")
	seen = nil
	err := c.ScanObjects(ctx, func(row catalog.ObjectRow) error {
		seen = append(seen, row.Key)
		if row.Key == "b" {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop, "error from fn is returned")
	require.Equal(t, []string{"a", "b"}, seen, "scan aborts at first error")

	// The catalog remains usable after an aborted scan.
	keys, err := c.ListObjectKeys(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, keys, 3)
}
