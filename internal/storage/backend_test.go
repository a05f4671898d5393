package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestLocalBackend_BasicOperations(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	t.Run("WriteReader and Exists", func(t *testing.T) {
		err := backend.WriteReader(ctx, "store/store.parquet", strings.NewReader("PAR1"), 4)
		require.NoError(t, err)

		exists, err := backend.Exists(ctx, "store/store.parquet")
		require.NoError(t, err)
		assert.True(t, exists)

		data, err := os.ReadFile(filepath.Join(backend.GetBasePath(), "store", "store.parquet"))
		require.NoError(t, err)
		assert.Equal(t, "PAR1", string(data))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, backend.WriteReader(ctx, "item/item.parquet", strings.NewReader("x"), 1))
		require.NoError(t, backend.WriteReader(ctx, "item/part/p0.parquet", strings.NewReader("y"), 1))

		files, err := backend.List(ctx, "item")
		require.NoError(t, err)
		sort.Strings(files)
		assert.Equal(t, []string{"item/item.parquet", "item/part/p0.parquet"}, files)
	})

	t.Run("List missing prefix", func(t *testing.T) {
		files, err := backend.List(ctx, "nothing-here")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("ListDirectories", func(t *testing.T) {
		dirs, err := backend.ListDirectories(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"item", "store"}, dirs)
	})

	t.Run("Delete and DeleteBatch", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, "store/store.parquet"))
		require.NoError(t, backend.Delete(ctx, "store/store.parquet"), "deleting twice is not an error")

		require.NoError(t, backend.DeleteBatch(ctx, []string{"item/item.parquet", "item/part/p0.parquet"}))
		files, err := backend.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestLocalBackend_PathTraversal(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, backend.WriteReader(ctx, "../../escape.txt", strings.NewReader("x"), 1))

	// ".." is neutralized, the file stays under the base path
	_, err := os.Stat(filepath.Join(backend.GetBasePath(), "_", "_", "escape.txt"))
	assert.NoError(t, err)
}

func TestUploadFile(t *testing.T) {
	backend := newTestLocal(t)

	src := filepath.Join(t.TempDir(), "web_site.parquet")
	require.NoError(t, os.WriteFile(src, []byte("parquet-bytes"), 0644))

	n, err := UploadFile(context.Background(), backend, src, "web_site/web_site.parquet")
	require.NoError(t, err)
	assert.Equal(t, int64(len("parquet-bytes")), n)

	exists, err := backend.Exists(context.Background(), "web_site/web_site.parquet")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = UploadFile(context.Background(), backend, filepath.Join(t.TempDir(), "missing"), "k")
	assert.Error(t, err)
}

func TestNew_Local(t *testing.T) {
	backend, err := New(&config.StorageConfig{Backend: "local", LocalPath: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Type())
	assert.True(t, strings.HasPrefix(backend.URI("a/b.parquet"), "file://"))

	_, err = New(&config.StorageConfig{Backend: "gcs"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestIsCredentialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid key", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, true},
		{"bad signature", &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"}, true},
		{"wrapped access denied", errors.Join(errors.New("upload"), &smithy.GenericAPIError{Code: "AccessDenied"}), true},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, false},
		{"missing provider", errors.New("operation error S3: PutObject, failed to retrieve credentials"), true},
		{"network", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCredentialError(tt.err))
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFoundError(&smithy.GenericAPIError{Code: "AccessDenied"}))
}
