package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// chdirTemp switches to an empty directory so no config or .env file is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tmpDir
}

func TestGetDefaultThreadCount(t *testing.T) {
	expected := runtime.NumCPU()
	actual := getDefaultThreadCount()
	if actual != expected {
		t.Errorf("getDefaultThreadCount() = %d, want %d", actual, expected)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.URL != "http://localhost:9047" {
		t.Errorf("Engine.URL = %s, want http://localhost:9047", cfg.Engine.URL)
	}
	if cfg.Engine.PollInterval != time.Second {
		t.Errorf("Engine.PollInterval = %s, want 1s", cfg.Engine.PollInterval)
	}
	if cfg.Engine.FlightPort != 32010 {
		t.Errorf("Engine.FlightPort = %d, want 32010", cfg.Engine.FlightPort)
	}
	if cfg.Storage.Backend != "s3" || !cfg.Storage.S3PathStyle {
		t.Errorf("Storage = %+v, want s3 with path-style addressing", cfg.Storage)
	}
	if cfg.Convert.Engine != "arrow" {
		t.Errorf("Convert.Engine = %s, want arrow", cfg.Convert.Engine)
	}
	if cfg.Bench.ExpectedRuns != 495 || cfg.Bench.ExpectedQueries != 99 {
		t.Errorf("Bench expectations = %d/%d, want 495/99", cfg.Bench.ExpectedRuns, cfg.Bench.ExpectedQueries)
	}
}

func TestLoad_DerivedKitPaths(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := map[string]string{
		"tools":   filepath.Join("tpcds-kit", "tools"),
		"raw":     filepath.Join("tpcds-kit", "test_data", "raw_files"),
		"parquet": filepath.Join("tpcds-kit", "test_data", "parquet"),
		"queries": filepath.Join("tpcds-kit", "tools", "queries"),
		"schema":  filepath.Join("tpcds-kit", "tpcds_schema.json"),
	}
	got := map[string]string{
		"tools":   cfg.TPCDS.ToolsDir,
		"raw":     cfg.TPCDS.RawDir,
		"parquet": cfg.TPCDS.ParquetDir,
		"queries": cfg.TPCDS.QueriesDir,
		"schema":  cfg.TPCDS.SchemaFile,
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s dir = %s, want %s", k, got[k], w)
		}
	}
}

func TestLoad_LegacyEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DREMIO_URL", "http://dremio:9047/")
	t.Setenv("DREMIO_USERNAME", "admin")
	t.Setenv("DREMIO_PASSWORD", "secret")
	t.Setenv("S3_BUCKET_NAME", "tpcds")
	t.Setenv("S3_ENDPOINT_URL", "http://minio:9000")
	t.Setenv("ICEBERG_BUCKET_NAME", "nessie")
	t.Setenv("ICEBERG_SUBFOLDER", "sf10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.URL != "http://dremio:9047" {
		t.Errorf("Engine.URL = %s, want trailing slash trimmed", cfg.Engine.URL)
	}
	if cfg.Engine.Username != "admin" || cfg.Engine.Password != "secret" {
		t.Errorf("Engine credentials not bound from DREMIO_* env")
	}
	if cfg.Storage.S3Bucket != "tpcds" || cfg.Storage.S3Endpoint != "http://minio:9000" {
		t.Errorf("Storage not bound from S3_* env: %+v", cfg.Storage)
	}
	if cfg.Lakehouse.Catalog != "nessie" || cfg.Lakehouse.Subfolder != "sf10" {
		t.Errorf("Lakehouse not bound from ICEBERG_* env: %+v", cfg.Lakehouse)
	}
	// source name falls back to the bucket
	if cfg.Lakehouse.SourceName != "tpcds" {
		t.Errorf("Lakehouse.SourceName = %s, want tpcds", cfg.Lakehouse.SourceName)
	}
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LAKEBENCH_ENGINE_USERNAME", "prefixed")
	t.Setenv("DREMIO_USERNAME", "legacy")
	t.Setenv("LAKEBENCH_ENGINE_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Username != "prefixed" {
		t.Errorf("Engine.Username = %s, want prefixed", cfg.Engine.Username)
	}
	if cfg.Engine.PollInterval != 250*time.Millisecond {
		t.Errorf("Engine.PollInterval = %s, want 250ms", cfg.Engine.PollInterval)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)

	content := "DREMIO_PAT=pat-from-dotenv\nS3_FOLDER_NAME=raw\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("DREMIO_PAT")
		os.Unsetenv("S3_FOLDER_NAME")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Token != "pat-from-dotenv" {
		t.Errorf("Engine.Token = %q, want pat-from-dotenv", cfg.Engine.Token)
	}
	if cfg.Lakehouse.SourceFolder != "raw" {
		t.Errorf("Lakehouse.SourceFolder = %q, want raw", cfg.Lakehouse.SourceFolder)
	}
}

func TestLoadFile_Toml(t *testing.T) {
	dir := chdirTemp(t)

	path := filepath.Join(dir, "custom.toml")
	content := `
[engine]
url = "https://engine.example.com"
token = "abc"

[convert]
engine = "duckdb"
partition_size = "64MB"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Engine.URL != "https://engine.example.com" || cfg.Engine.Token != "abc" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Convert.Engine != "duckdb" || cfg.Convert.PartitionSize != "64MB" {
		t.Errorf("Convert = %+v", cfg.Convert)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	chdirTemp(t)

	if _, err := LoadFile("does-not-exist.toml"); err == nil {
		t.Error("LoadFile() with an explicit missing file should fail")
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EngineConfig
		wantErr bool
	}{
		{"token", EngineConfig{URL: "http://x", Token: "t", PollInterval: time.Second}, false},
		{"password", EngineConfig{URL: "http://x", Username: "u", Password: "p", PollInterval: time.Second}, false},
		{"missing url", EngineConfig{Token: "t", PollInterval: time.Second}, true},
		{"bad scheme", EngineConfig{URL: "dremio:9047", Token: "t", PollInterval: time.Second}, true},
		{"no credentials", EngineConfig{URL: "http://x", Username: "u", PollInterval: time.Second}, true},
		{"zero poll", EngineConfig{URL: "http://x", Token: "t"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StorageConfig
		wantErr bool
	}{
		{"s3 ok", StorageConfig{Backend: "s3", S3Bucket: "b", S3AccessKey: "a", S3SecretKey: "s"}, false},
		{"s3 default chain", StorageConfig{Backend: "s3", S3Bucket: "b"}, false},
		{"s3 missing bucket", StorageConfig{Backend: "s3"}, true},
		{"s3 half credentials", StorageConfig{Backend: "s3", S3Bucket: "b", S3AccessKey: "a"}, true},
		{"azure missing container", StorageConfig{Backend: "azure"}, true},
		{"local ok", StorageConfig{Backend: "local", LocalPath: "/tmp/x"}, false},
		{"unknown", StorageConfig{Backend: "gcs"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConvertConfig_Validate(t *testing.T) {
	ok := ConvertConfig{Engine: "arrow", Compression: "snappy", SourceEncoding: "utf-8", PartitionSize: "128MB"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := ok
	bad.Engine = "spark"
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject unknown engine")
	}

	bad = ok
	bad.PartitionSize = "1TB"
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject unparseable partition size")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"128MB", 128 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"1.5kb", 1536, false},
		{"512", 512, false},
		{"10B", 10, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1TB", 0, true},
		{"-5MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
