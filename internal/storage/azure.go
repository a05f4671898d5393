package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"
)

// AzureBackend stores the TPC-DS files in one Azure Blob Storage container.
type AzureBackend struct {
	container *container.Client
	name      string
	logger    zerolog.Logger
}

// AzureConfig selects the container and how to authenticate against it. The
// first complete method wins: connection string, SAS token, shared key, then
// managed identity.
type AzureConfig struct {
	ConnectionString   string
	AccountName        string
	AccountKey         string
	SASToken           string
	UseManagedIdentity bool
	Container          string
	Endpoint           string // overrides https://<account>.blob.core.windows.net, e.g. Azurite
}

func (cfg *AzureConfig) serviceURL() string {
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
}

// serviceClient builds the account client and names the auth method used.
func (cfg *AzureConfig) serviceClient() (*azblob.Client, string, error) {
	switch {
	case cfg.ConnectionString != "":
		c, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		return c, "connection string", err

	case cfg.AccountName != "" && cfg.SASToken != "":
		u := cfg.serviceURL() + "?" + strings.TrimPrefix(cfg.SASToken, "?")
		c, err := azblob.NewClientWithNoCredential(u, nil)
		return c, "SAS token", err

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, "shared key", err
		}
		c, err := azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
		return c, "shared key", err

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, "managed identity", err
		}
		c, err := azblob.NewClient(cfg.serviceURL(), cred, nil)
		return c, "managed identity", err
	}
	return nil, "", fmt.Errorf("no Azure credentials configured: set azure_connection_string, azure_account_name with azure_sas_token or azure_account_key, or azure_use_managed_identity")
}

// NewAzureBackend opens the container. A container that cannot be reached is
// only logged; the first upload reports the real error.
func NewAzureBackend(cfg *AzureConfig, logger zerolog.Logger) (*AzureBackend, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}
	log := logger.With().Str("component", "azure-storage").Logger()

	client, method, err := cfg.serviceClient()
	if err != nil {
		if method == "" {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create Azure client with %s: %w", method, err)
	}

	b := &AzureBackend{
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		name:      cfg.Container,
		logger:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := b.container.GetProperties(ctx, nil); err != nil {
		log.Warn().Err(err).Str("container", cfg.Container).Str("auth", method).Msg("Could not reach Azure container")
	} else {
		log.Info().Str("container", cfg.Container).Str("auth", method).Msg("Connected to Azure Blob Storage")
	}
	return b, nil
}

// WriteReader uploads reader as a block blob. Payloads under one block go up
// in a single request.
func (b *AzureBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	start := time.Now()
	contentType := contentTypeFor(path)

	_, err := b.container.NewBlockBlobClient(path).UploadStream(ctx, reader, &blockblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		b.logger.Error().Err(err).Str("path", path).Int64("size", size).Msg("Failed to write to Azure")
		return fmt.Errorf("failed to write %s to Azure: %w", path, err)
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", size).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure")
	return nil
}

func (b *AzureBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := b.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs under %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

func (b *AzureBackend) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var dirs []string
	pager := b.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure directories under %q: %w", prefix, err)
		}
		for _, p := range page.Segment.BlobPrefixes {
			if p.Name == nil {
				continue
			}
			dir := strings.TrimSuffix(strings.TrimPrefix(*p.Name, prefix), "/")
			if dir != "" && !strings.HasPrefix(dir, ".") {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs, nil
}

// Delete removes one blob. A missing blob is not an error.
func (b *AzureBackend) Delete(ctx context.Context, path string) error {
	if _, err := b.container.NewBlobClient(path).Delete(ctx, nil); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("failed to delete %s from Azure: %w", path, err)
	}
	return nil
}

// DeleteBatch deletes every path and reports all failures together.
func (b *AzureBackend) DeleteBatch(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := b.Delete(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	b.logger.Debug().Int("count", len(paths)).Msg("Batch deleted from Azure")
	return nil
}

func (b *AzureBackend) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := b.container.NewBlobClient(path).GetProperties(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s in Azure: %w", path, err)
	}
	return true, nil
}

func (b *AzureBackend) Close() error {
	return nil
}

func (b *AzureBackend) URI(path string) string {
	return fmt.Sprintf("azure://%s/%s", b.name, path)
}

func (b *AzureBackend) Type() string {
	return "azure"
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// isAzureCredentialError matches rejected keys, SAS tokens and identities.
func isAzureCredentialError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.ErrorCode {
		case "AuthenticationFailed", "AuthorizationFailure", "AuthorizationPermissionMismatch", "InvalidAuthenticationInfo":
			return true
		}
		return respErr.StatusCode == http.StatusForbidden
	}
	var authErr *azidentity.AuthenticationFailedError
	return errors.As(err, &authErr)
}
