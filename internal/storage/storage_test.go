package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorePutAndOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "sale_receipt/2024/03/abc.pdf", []byte("first"), "application/pdf"))
	require.NoError(t, store.Put(ctx, "sale_receipt/2024/03/abc.pdf", []byte("second"), "application/pdf"))

	rc, err := store.Open(ctx, "sale_receipt/2024/03/abc.pdf")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second", string(body))

	entries, err := os.ReadDir(filepath.Join(dir, "sale_receipt", "2024", "03"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLocalStoreKeepsWritesInsideRoot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "../../escape.pdf", []byte("x"), "application/pdf"))
	_, err = os.Stat(filepath.Join(dir, "docs", "escape.pdf"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "escape.pdf"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalStoreOpenMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Open(context.Background(), "missing.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestParseURI(t *testing.T) {
	bucket, object, ok := ParseURI("gs://imports/2024/extract.json")
	require.True(t, ok)
	require.Equal(t, "imports", bucket)
	require.Equal(t, "2024/extract.json", object)

	_, _, ok = ParseURI("gs://imports")
	require.False(t, ok)
	_, _, ok = ParseURI("/tmp/extract.json")
	require.False(t, ok)
}

func TestOpenURILocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	rc, err := OpenURI(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "{}", string(body))

	_, err = OpenURI(context.Background(), path+".missing")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, _, err := New(context.Background(), Options{Driver: "ftp"})
	require.Error(t, err)
}
