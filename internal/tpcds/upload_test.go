package tpcds

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/basekick-labs/lakebench/internal/convert"
	"github.com/basekick-labs/lakebench/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyConverter "converts" by copying the raw file to <out>/<table>.parquet.
type copyConverter struct {
	out    string
	failOn string
}

func (c *copyConverter) Name() string { return "copy" }
func (c *copyConverter) Close() error { return nil }

func (c *copyConverter) Convert(ctx context.Context, f convert.RawFile) (string, error) {
	if f.Table == c.failOn {
		return "", errors.New("conversion failed")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.out, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(c.out, f.Table+".parquet")
	return path, os.WriteFile(path, data, 0644)
}

// failingBackend rejects writes for selected keys.
type failingBackend struct {
	storage.Backend
	errs map[string]error
}

func (b *failingBackend) WriteReader(ctx context.Context, path string, r io.Reader, size int64) error {
	if err, ok := b.errs[path]; ok {
		return err
	}
	return b.Backend.WriteReader(ctx, path, r, size)
}

func seedRaw(t *testing.T, w *Workspace, tables ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(w.RawDir, 0755))
	for _, table := range tables {
		require.NoError(t, os.WriteFile(filepath.Join(w.RawDir, table+".dat"), []byte("1|x|\n"), 0644))
	}
}

func newBucket(t *testing.T) *storage.LocalBackend {
	t.Helper()
	b, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestUpload(t *testing.T) {
	w := newTestWorkspace(t)
	seedRaw(t, w, "store", "item")
	bucket := newBucket(t)

	report, err := w.Upload(context.Background(), UploadOptions{
		Converter: &copyConverter{out: w.ParquetDir},
		Backend:   bucket,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item", "store"}, report.Conversion.Succeeded)
	assert.Equal(t, []string{"item/item.parquet", "store/store.parquet"}, report.Upload.Succeeded)
	require.Len(t, report.Uploads, 2)
	assert.Equal(t, int64(5), report.Uploads[0].Bytes)

	exists, err := bucket.Exists(context.Background(), "store/store.parquet")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpload_TestMode(t *testing.T) {
	w := newTestWorkspace(t)
	seedRaw(t, w, "store")
	bucket := newBucket(t)

	report, err := w.Upload(context.Background(), UploadOptions{Test: true, Backend: bucket})
	require.NoError(t, err)
	require.Len(t, report.Plan, 1)
	assert.Equal(t, filepath.Join(w.ParquetDir, "store.parquet"), report.Plan[0].Source)
	assert.Equal(t, bucket.URI("store/store.parquet"), report.Plan[0].Target)
	assert.Contains(t, report.Plan[0].String(), "Source: ")
	assert.Nil(t, report.Conversion)

	keys, err := bucket.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUpload_NothingToConvert(t *testing.T) {
	w := newTestWorkspace(t)
	_, err := w.Upload(context.Background(), UploadOptions{Backend: newBucket(t)})
	assert.ErrorIs(t, err, ErrNothingToConvert)
}

func TestUpload_NothingToUpload(t *testing.T) {
	w := newTestWorkspace(t)
	seedRaw(t, w, "store")

	report, err := w.Upload(context.Background(), UploadOptions{
		Converter: &copyConverter{out: w.ParquetDir, failOn: "store"},
		Backend:   newBucket(t),
	})
	assert.ErrorIs(t, err, ErrNothingToUpload)
	assert.Equal(t, []string{"store"}, report.Conversion.FailedNames())
}

func TestUpload_SkipsFailedFile(t *testing.T) {
	w := newTestWorkspace(t)
	seedRaw(t, w, "item", "store")
	bucket := &failingBackend{
		Backend: newBucket(t),
		errs:    map[string]error{"item/item.parquet": errors.New("connection reset")},
	}

	report, err := w.Upload(context.Background(), UploadOptions{
		Converter: &copyConverter{out: w.ParquetDir},
		Backend:   bucket,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item/item.parquet"}, report.Upload.FailedNames())
	assert.Equal(t, []string{"store/store.parquet"}, report.Upload.Succeeded)
}

func TestUpload_AbortsOnCredentialError(t *testing.T) {
	w := newTestWorkspace(t)
	seedRaw(t, w, "item", "store")
	bucket := &failingBackend{
		Backend: newBucket(t),
		errs: map[string]error{
			"item/item.parquet": &smithy.GenericAPIError{Code: "InvalidAccessKeyId", Message: "bad key"},
		},
	}

	report, err := w.Upload(context.Background(), UploadOptions{
		Converter: &copyConverter{out: w.ParquetDir},
		Backend:   bucket,
	})
	require.Error(t, err)
	assert.True(t, storage.IsCredentialError(err))
	assert.Empty(t, report.Upload.Succeeded, "store must not be attempted after the abort")
}

func TestCleanupBucket(t *testing.T) {
	bucket := newBucket(t)
	ctx := context.Background()
	for _, key := range []string{"store/store.parquet", "item/item.parquet", "other/x.parquet"} {
		require.NoError(t, bucket.WriteReader(ctx, key, strings.NewReader("x"), 1))
	}

	n, err := CleanupBucket(ctx, bucket, "store")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = CleanupBucket(ctx, bucket, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CleanupBucket(ctx, bucket, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
