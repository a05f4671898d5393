package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Catalog child types
const (
	ChildContainer = "CONTAINER"
	ChildFile      = "FILE"
	ChildDataset   = "DATASET"
)

// CatalogEntity is a catalog object (space, folder, source, dataset, file)
type CatalogEntity struct {
	EntityType string         `json:"entityType,omitempty"`
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Path       []string       `json:"path,omitempty"`
	Tag        string         `json:"tag,omitempty"`
	Children   []CatalogChild `json:"children,omitempty"`
}

// CatalogChild is an entry in a container listing
type CatalogChild struct {
	ID            string   `json:"id"`
	Path          []string `json:"path"`
	Type          string   `json:"type"`
	ContainerType string   `json:"containerType,omitempty"`
	DatasetType   string   `json:"datasetType,omitempty"`
}

// Name returns the last path element.
func (c CatalogChild) Name() string {
	if len(c.Path) == 0 {
		return ""
	}
	return c.Path[len(c.Path)-1]
}

// CreateSpace creates a top-level space. An existing space yields an
// *APIError for which IsConflict is true.
func (c *Client) CreateSpace(ctx context.Context, name string) (*CatalogEntity, error) {
	body := map[string]any{
		"entityType": "space",
		"name":       name,
	}
	return c.CreateCatalogEntity(ctx, body)
}

// CreateFolder creates a folder at path (space first).
func (c *Client) CreateFolder(ctx context.Context, path []string) (*CatalogEntity, error) {
	body := map[string]any{
		"entityType": "folder",
		"path":       path,
	}
	return c.CreateCatalogEntity(ctx, body)
}

// CreateCatalogEntity posts an arbitrary catalog entity body, such as the view
// definition returned by the reflection recommendation API.
func (c *Client) CreateCatalogEntity(ctx context.Context, body any) (*CatalogEntity, error) {
	var entity CatalogEntity
	if _, err := c.do(ctx, "POST", "/catalog", body, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetByPath looks an entity up by its path, including its children for containers.
func (c *Client) GetByPath(ctx context.Context, path []string) (*CatalogEntity, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("catalog path is empty")
	}
	escaped := make([]string, len(path))
	for i, p := range path {
		escaped[i] = url.PathEscape(p)
	}

	var entity CatalogEntity
	if _, err := c.do(ctx, "GET", "/catalog/by-path/"+strings.Join(escaped, "/"), nil, &entity); err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", strings.Join(path, "/"), err)
	}
	return &entity, nil
}

// S3Source describes an S3-compatible object storage source
type S3Source struct {
	Name      string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	PathStyle bool
}

type sourceProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateSource registers an S3 source whose root is the bucket.
func (c *Client) CreateSource(ctx context.Context, src S3Source) (*CatalogEntity, error) {
	props := []sourceProperty{}
	if src.Endpoint != "" {
		props = append(props, sourceProperty{Name: "fs.s3a.endpoint", Value: stripScheme(src.Endpoint)})
	}
	if src.PathStyle {
		props = append(props, sourceProperty{Name: "fs.s3a.path.style.access", Value: "true"})
	}

	body := map[string]any{
		"entityType": "source",
		"name":       src.Name,
		"type":       "S3",
		"config": map[string]any{
			"accessKey":             src.AccessKey,
			"accessSecret":          src.SecretKey,
			"secure":                src.Secure,
			"rootPath":              "/" + src.Bucket,
			"whitelistedBuckets":    []string{src.Bucket},
			"defaultCtasFormat":     "PARQUET",
			"enableAsync":           true,
			"compatibilityMode":     true,
			"isCachingEnabled":      true,
			"maxCacheSpacePct":      100,
			"requesterPays":         false,
			"enableFileStatusCheck": true,
			"credentialType":        "ACCESS_KEY",
			"propertyList":          props,
		},
	}
	return c.CreateCatalogEntity(ctx, body)
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

// PromoteDataset formats the folder at path as a Parquet physical dataset.
func (c *Client) PromoteDataset(ctx context.Context, path []string) (*CatalogEntity, error) {
	body := map[string]any{
		"entityType": "dataset",
		"type":       "PHYSICAL_DATASET",
		"path":       path,
		"format": map[string]any{
			"type": "Parquet",
		},
	}
	id := url.PathEscape("dremio:/" + strings.Join(path, "/"))

	var entity CatalogEntity
	if _, err := c.do(ctx, "POST", "/catalog/"+id, body, &entity); err != nil {
		return nil, fmt.Errorf("failed to promote %s: %w", strings.Join(path, "/"), err)
	}
	return &entity, nil
}
