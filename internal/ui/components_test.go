package ui_test

import (
	"bytes"
	"testing"

	"coffer/internal/ui"

	"github.com/stretchr/testify/require"
)

func TestBucketsPage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := ui.BucketsPage([]ui.Bucket{
		{Name: "docs", CreationDate: "2024-01-02T03:04:05Z"},
	}).Render(t.Context(), &buf)
	require.NoError(t, err)

	html := buf.String()
	require.Contains(t, html, "<title>Coffer - Buckets</title>")
	require.Contains(t, html, `href="/bucket/docs/"`)
	require.Contains(t, html, "2024-01-02T03:04:05Z")
}

func TestBucketsPageEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, ui.BucketsPage(nil).Render(t.Context(), &buf))
	require.Contains(t, buf.String(), "No buckets found.")
}

func TestObjectsPageEscapes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := ui.ObjectsPage("docs", "reports/", []string{"reports/2024/"}, []ui.Object{
		{Key: "reports/<script>.txt", Size: 5, ETag: "5d41402abc4b2a76b9719d911017c592"},
	}).Render(t.Context(), &buf)
	require.NoError(t, err)

	html := buf.String()
	require.NotContains(t, html, "<script>.txt", "keys must be escaped")
	require.Contains(t, html, "&lt;script&gt;.txt")
	require.Contains(t, html, `href="/bucket/docs/reports/2024/"`, "folder link")
	require.Contains(t, html, `href="/bucket/docs/reports/"`, "breadcrumb link")
	require.Contains(t, html, "5d41402abc4b2a76b9719d911017c592")
}

func TestHealthPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		health ui.Health
		want   string
	}{
		{name: "never checked", health: ui.Health{State: "idle"}, want: "No scan has finished yet."},
		{name: "consistent", health: ui.Health{State: "idle", Checked: true, Consistent: true}, want: "Consistent"},
		{name: "inconsistent", health: ui.Health{State: "idle", Checked: true, Error: "hash mismatch for docs/a.txt"}, want: "hash mismatch for docs/a.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, ui.HealthPage(tc.health).Render(t.Context(), &buf))
			require.Contains(t, buf.String(), tc.want)
		})
	}
}
