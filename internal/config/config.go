package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for lakebench
type Config struct {
	Engine    EngineConfig
	Storage   StorageConfig
	Lakehouse LakehouseConfig
	TPCDS     TPCDSConfig
	Convert   ConvertConfig
	Database  DatabaseConfig
	Bench     BenchConfig
	Log       LogConfig
}

type EngineConfig struct {
	URL             string
	APIPath         string // REST API prefix (default: /api/v3)
	LoginPath       string // Password login endpoint (default: /apiv2/login)
	Username        string
	Password        string
	Token           string // Personal access token, takes precedence over username/password
	Context         []string
	PollInterval    time.Duration
	MaxWait         time.Duration // 0 waits until the job reaches a terminal state
	NotFoundRetries int           // Tolerated 404s while a freshly submitted job becomes visible
	RequestTimeout  time.Duration
	// Arrow Flight SQL endpoint
	FlightHost string
	FlightPort int
	FlightTLS  bool
}

type StorageConfig struct {
	Backend   string
	LocalPath string
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool
	// Azure Blob Storage configuration
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string
	AzureUseManagedIdentity bool
}

type LakehouseConfig struct {
	Catalog       string // Iceberg catalog the tables are created in
	Folder        string
	Subfolder     string
	SourceName    string // Engine source that exposes the raw parquet bucket
	SourceFolder  string
	ViewsFolder   string
	TablesFile    string
	StorageSource string // Name of the S3 source created by "iceberg sources"
	DiscoverRoot  string
	SamplesPath   string
	SamplesSpace  string
	SamplesFolder string
}

type TPCDSConfig struct {
	KitDir     string
	ToolsDir   string
	RawDir     string
	ParquetDir string
	QueriesDir string
	SchemaFile string
	Compile    bool // Run make before dsdgen
}

type ConvertConfig struct {
	Engine          string // arrow or duckdb
	Compression     string // snappy, zstd, gzip, none
	UseDictionary   bool
	WriteStatistics bool
	BatchRows       int
	SampleRows      int
	PartitionSize   string // Target bytes per partition for the duckdb engine (e.g., "128MB")
	SourceEncoding  string // utf-8 or latin1
	TempDir         string
}

type DatabaseConfig struct {
	MemoryLimit string
	ThreadCount int
}

type BenchConfig struct {
	QueriesDir      string
	ResultsDir      string
	ResultsFile     string
	ExpectedRuns    int // Distinct runs expected per reflection mode
	ExpectedQueries int // Distinct queries expected per run
}

type LogConfig struct {
	Level  string
	Format string
}

// legacyEnv maps config keys to the environment variable names used by the
// original shell tooling. They are bound alongside the LAKEBENCH_ prefixed names.
var legacyEnv = map[string]string{
	"engine.url":              "DREMIO_URL",
	"engine.username":         "DREMIO_USERNAME",
	"engine.password":         "DREMIO_PASSWORD",
	"engine.token":            "DREMIO_PAT",
	"engine.flight_host":      "DREMIO_HOST",
	"engine.flight_port":      "DREMIO_PORT",
	"storage.s3_bucket":       "S3_BUCKET_NAME",
	"storage.s3_endpoint":     "S3_ENDPOINT_URL",
	"storage.s3_access_key":   "S3_ACCESS_KEY",
	"storage.s3_secret_key":   "S3_SECRET_KEY",
	"lakehouse.catalog":       "ICEBERG_BUCKET_NAME",
	"lakehouse.folder":        "ICEBERG_FOLDER_NAME",
	"lakehouse.subfolder":     "ICEBERG_SUBFOLDER",
	"lakehouse.source_name":   "DREMIO_SOURCE_NAME",
	"lakehouse.source_folder": "S3_FOLDER_NAME",
}

// Load loads configuration from .env, environment and config file
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	// .env is optional; values already present in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LAKEBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "LAKEBENCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lakebench")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lakebench/")
		v.AddConfigPath("/etc/lakebench/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Engine: EngineConfig{
			URL:             strings.TrimRight(v.GetString("engine.url"), "/"),
			APIPath:         v.GetString("engine.api_path"),
			LoginPath:       v.GetString("engine.login_path"),
			Username:        v.GetString("engine.username"),
			Password:        v.GetString("engine.password"),
			Token:           v.GetString("engine.token"),
			Context:         v.GetStringSlice("engine.context"),
			PollInterval:    v.GetDuration("engine.poll_interval"),
			MaxWait:         v.GetDuration("engine.max_wait"),
			NotFoundRetries: v.GetInt("engine.not_found_retries"),
			RequestTimeout:  v.GetDuration("engine.request_timeout"),
			FlightHost:      v.GetString("engine.flight_host"),
			FlightPort:      v.GetInt("engine.flight_port"),
			FlightTLS:       v.GetBool("engine.flight_tls"),
		},
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			LocalPath:   v.GetString("storage.local_path"),
			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
			// Azure Blob Storage
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureContainer:          v.GetString("storage.azure_container"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Lakehouse: LakehouseConfig{
			Catalog:       v.GetString("lakehouse.catalog"),
			Folder:        v.GetString("lakehouse.folder"),
			Subfolder:     v.GetString("lakehouse.subfolder"),
			SourceName:    v.GetString("lakehouse.source_name"),
			SourceFolder:  v.GetString("lakehouse.source_folder"),
			ViewsFolder:   v.GetString("lakehouse.views_folder"),
			TablesFile:    v.GetString("lakehouse.tables_file"),
			StorageSource: v.GetString("lakehouse.storage_source"),
			DiscoverRoot:  v.GetString("lakehouse.discover_root"),
			SamplesPath:   v.GetString("lakehouse.samples_path"),
			SamplesSpace:  v.GetString("lakehouse.samples_space"),
			SamplesFolder: v.GetString("lakehouse.samples_folder"),
		},
		TPCDS: TPCDSConfig{
			KitDir:     v.GetString("tpcds.kit_dir"),
			ToolsDir:   v.GetString("tpcds.tools_dir"),
			RawDir:     v.GetString("tpcds.raw_dir"),
			ParquetDir: v.GetString("tpcds.parquet_dir"),
			QueriesDir: v.GetString("tpcds.queries_dir"),
			SchemaFile: v.GetString("tpcds.schema_file"),
			Compile:    v.GetBool("tpcds.compile"),
		},
		Convert: ConvertConfig{
			Engine:          strings.ToLower(v.GetString("convert.engine")),
			Compression:     strings.ToLower(v.GetString("convert.compression")),
			UseDictionary:   v.GetBool("convert.use_dictionary"),
			WriteStatistics: v.GetBool("convert.write_statistics"),
			BatchRows:       v.GetInt("convert.batch_rows"),
			SampleRows:      v.GetInt("convert.sample_rows"),
			PartitionSize:   v.GetString("convert.partition_size"),
			SourceEncoding:  strings.ToLower(v.GetString("convert.source_encoding")),
			TempDir:         v.GetString("convert.temp_dir"),
		},
		Database: DatabaseConfig{
			MemoryLimit: v.GetString("database.memory_limit"),
			ThreadCount: v.GetInt("database.thread_count"),
		},
		Bench: BenchConfig{
			QueriesDir:      v.GetString("bench.queries_dir"),
			ResultsDir:      v.GetString("bench.results_dir"),
			ResultsFile:     v.GetString("bench.results_file"),
			ExpectedRuns:    v.GetInt("bench.expected_runs"),
			ExpectedQueries: v.GetInt("bench.expected_queries"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	cfg.applyDerivedDefaults()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.url", "http://localhost:9047")
	v.SetDefault("engine.api_path", "/api/v3")
	v.SetDefault("engine.login_path", "/apiv2/login")
	v.SetDefault("engine.context", []string{})
	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.max_wait", "0s")
	v.SetDefault("engine.not_found_retries", 5)
	v.SetDefault("engine.request_timeout", "60s")
	v.SetDefault("engine.flight_host", "localhost")
	v.SetDefault("engine.flight_port", 32010)
	v.SetDefault("engine.flight_tls", false)

	// Storage defaults
	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.local_path", "./data/lakebench")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", false)
	v.SetDefault("storage.s3_path_style", true) // MinIO needs path-style addressing

	// Lakehouse defaults
	v.SetDefault("lakehouse.views_folder", "views")
	v.SetDefault("lakehouse.tables_file", "tables.json")
	v.SetDefault("lakehouse.storage_source", "storage")
	v.SetDefault("lakehouse.discover_root", "Samples/tpcds_sf1000")
	v.SetDefault("lakehouse.samples_path", "Samples/samples.dremio.com/tpcds_sf1000")
	v.SetDefault("lakehouse.samples_space", "tpcds")
	v.SetDefault("lakehouse.samples_folder", "dataset")

	// TPC-DS kit defaults, empty paths derive from kit_dir
	v.SetDefault("tpcds.kit_dir", "tpcds-kit")
	v.SetDefault("tpcds.compile", true)

	// Conversion defaults
	v.SetDefault("convert.engine", "arrow")
	v.SetDefault("convert.compression", "snappy")
	v.SetDefault("convert.use_dictionary", true)
	v.SetDefault("convert.write_statistics", true)
	v.SetDefault("convert.batch_rows", 65536)
	v.SetDefault("convert.sample_rows", 1000)
	v.SetDefault("convert.partition_size", "128MB")
	v.SetDefault("convert.source_encoding", "utf-8")

	// Database defaults
	v.SetDefault("database.memory_limit", getDefaultMemoryLimit())
	v.SetDefault("database.thread_count", getDefaultThreadCount())

	// Benchmark defaults
	v.SetDefault("bench.queries_dir", "benchmark-kit/queries")
	v.SetDefault("bench.results_dir", "results")
	v.SetDefault("bench.results_file", "full_results.csv")
	v.SetDefault("bench.expected_runs", 495)
	v.SetDefault("bench.expected_queries", 99)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (cfg *Config) applyDerivedDefaults() {
	kit := cfg.TPCDS.KitDir
	if cfg.TPCDS.ToolsDir == "" {
		cfg.TPCDS.ToolsDir = filepath.Join(kit, "tools")
	}
	if cfg.TPCDS.RawDir == "" {
		cfg.TPCDS.RawDir = filepath.Join(kit, "test_data", "raw_files")
	}
	if cfg.TPCDS.ParquetDir == "" {
		cfg.TPCDS.ParquetDir = filepath.Join(kit, "test_data", "parquet")
	}
	if cfg.TPCDS.QueriesDir == "" {
		cfg.TPCDS.QueriesDir = filepath.Join(cfg.TPCDS.ToolsDir, "queries")
	}
	if cfg.TPCDS.SchemaFile == "" {
		cfg.TPCDS.SchemaFile = filepath.Join(kit, "tpcds_schema.json")
	}
	if cfg.Lakehouse.SourceName == "" {
		cfg.Lakehouse.SourceName = cfg.Storage.S3Bucket
	}
}

func getDefaultThreadCount() int {
	return runtime.NumCPU()
}

func getDefaultMemoryLimit() string {
	// Heuristic: assume ~2GB per core and hand half of it to DuckDB
	targetMemGB := runtime.NumCPU()

	if targetMemGB < 1 {
		return "1GB"
	}
	if targetMemGB > 32 {
		return "32GB"
	}
	return fmt.Sprintf("%dGB", targetMemGB)
}

// Validate checks that the engine can be reached and authenticated against.
func (cfg *EngineConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("engine.url (DREMIO_URL) not specified")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return fmt.Errorf("engine.url must start with http:// or https://: %s", cfg.URL)
	}
	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return fmt.Errorf("engine credentials missing: set engine.token (DREMIO_PAT) or engine.username and engine.password (DREMIO_USERNAME, DREMIO_PASSWORD)")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return nil
}

// Validate checks the settings required by the selected storage backend.
func (cfg *StorageConfig) Validate() error {
	switch cfg.Backend {
	case "s3", "minio":
		if cfg.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket (S3_BUCKET_NAME) not specified")
		}
		if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
			return fmt.Errorf("storage.s3_access_key and storage.s3_secret_key must be set together")
		}
	case "azure", "azblob":
		if cfg.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container not specified")
		}
	case "local":
		if cfg.LocalPath == "" {
			return fmt.Errorf("storage.local_path not specified")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
	return nil
}

// Validate checks the settings needed to create tables in the Iceberg catalog.
func (cfg *LakehouseConfig) Validate() error {
	if cfg.Catalog == "" {
		return fmt.Errorf("lakehouse.catalog (ICEBERG_BUCKET_NAME) not specified")
	}
	return nil
}

// Validate checks the conversion settings.
func (cfg *ConvertConfig) Validate() error {
	switch cfg.Engine {
	case "arrow", "duckdb":
	default:
		return fmt.Errorf("unsupported convert.engine: %s (use arrow or duckdb)", cfg.Engine)
	}
	switch cfg.Compression {
	case "snappy", "zstd", "gzip", "none", "uncompressed", "":
	default:
		return fmt.Errorf("unsupported convert.compression: %s", cfg.Compression)
	}
	switch cfg.SourceEncoding {
	case "utf-8", "utf8", "latin1", "iso-8859-1":
	default:
		return fmt.Errorf("unsupported convert.source_encoding: %s", cfg.SourceEncoding)
	}
	if _, err := ParseSize(cfg.PartitionSize); err != nil {
		return fmt.Errorf("invalid convert.partition_size: %w", err)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Plain number of bytes
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
