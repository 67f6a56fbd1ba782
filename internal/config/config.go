package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/catalogsync/internal/retry"
)

// Config holds the catalogsync configuration.
type Config struct {
	Tenant     string           `yaml:"tenant"`
	Logging    LoggingConfig    `yaml:"logging"`
	Source     SourceConfig     `yaml:"source"`
	Store      StoreConfig      `yaml:"store"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Search     SearchConfig     `yaml:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Summary    SummaryConfig    `yaml:"summary"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// SourceConfig holds the upstream bulk export settings.
type SourceConfig struct {
	Shop         string     `yaml:"shop" validate:"omitempty,hostname"`
	Token        string     `yaml:"token"`
	APIVersion   string     `yaml:"api_version" validate:"required"`
	AWSRegion    string     `yaml:"aws_region"` // for s3:// export locations
	MaxLineBytes int        `yaml:"max_line_bytes"`
	Poll         PollConfig `yaml:"poll"`
}

// PollConfig bounds export job polling.
type PollConfig struct {
	InitialSec           int `yaml:"initial_sec"`
	MaxSec               int `yaml:"max_sec"`
	MaxWaitMin           int `yaml:"max_wait_min" validate:"min=1"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// StoreConfig holds keyed store (DynamoDB) settings.
type StoreConfig struct {
	Region          string      `yaml:"region"`
	Endpoint        string      `yaml:"endpoint" validate:"omitempty,url"`
	Table           string      `yaml:"table" validate:"required"`
	AccessKeyID     string      `yaml:"access_key_id"`
	SecretAccessKey string      `yaml:"secret_access_key"`
	BatchSize       int         `yaml:"batch_size"`
	Workers         int         `yaml:"workers" validate:"min=1,max=64"`
	ScanPageSize    int64       `yaml:"scan_page_size" validate:"min=1"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig is a capped exponential backoff.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`
	InitialMs   int `yaml:"initial_ms"`
	MaxMs       int `yaml:"max_ms"`
}

// CorrelatorConfig holds correlation settings.
type CorrelatorConfig struct {
	SpillDir string `yaml:"spill_dir"` // empty keeps unmatched children in memory
}

// SearchConfig holds search index (Redis/Valkey) settings.
type SearchConfig struct {
	Addrs            []string    `yaml:"addrs" validate:"dive,hostname_port"`
	Username         string      `yaml:"username"`
	Password         string      `yaml:"password"`
	Index            string      `yaml:"index" validate:"required"`
	KeyPrefix        string      `yaml:"key_prefix"`
	BulkSize         int         `yaml:"bulk_size" validate:"min=1"`
	Workers          int         `yaml:"workers" validate:"min=1,max=64"`
	VectorAlgorithm  string      `yaml:"vector_algorithm" validate:"oneof=HNSW FLAT"`
	DistanceMetric   string      `yaml:"distance_metric" validate:"oneof=COSINE L2 IP"`
	HNSWM            int         `yaml:"hnsw_m"`
	HNSWEFConstruct  int         `yaml:"hnsw_ef_construction"`
	FlatBlockSize    int         `yaml:"flat_block_size" validate:"min=0"`
	ReadinessTimeout int         `yaml:"readiness_timeout_sec"`
	Retry            RetryConfig `yaml:"retry"`
}

// EmbeddingConfig holds embedding enrichment settings.
type EmbeddingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions" validate:"min=1,max=4096"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unthrottled
	Burst             int     `yaml:"burst"`
	ChunkSize         int     `yaml:"chunk_size"`
	CacheTTLHours     int     `yaml:"cache_ttl_hours"` // 0 = no expiry
	Cache             bool    `yaml:"cache"`
}

// MetricsConfig holds the ops server settings.
type MetricsConfig struct {
	Addr    string   `yaml:"addr"` // empty disables the ops server
	APIKeys []string `yaml:"api_keys"`
}

// SummaryConfig holds run summary settings.
type SummaryConfig struct {
	ErrorsPerCategory int `yaml:"errors_per_category"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if any, is loaded first.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Source.APIVersion == "" {
		c.Source.APIVersion = "2025-07"
	}
	if c.Source.MaxLineBytes <= 0 {
		c.Source.MaxLineBytes = 32 << 20
	}
	if c.Source.Poll.InitialSec <= 0 {
		c.Source.Poll.InitialSec = 1
	}
	if c.Source.Poll.MaxSec <= 0 {
		c.Source.Poll.MaxSec = 30
	}
	if c.Source.Poll.MaxWaitMin <= 0 {
		c.Source.Poll.MaxWaitMin = 120
	}
	if c.Source.Poll.MaxConsecutiveErrors <= 0 {
		c.Source.Poll.MaxConsecutiveErrors = 5
	}
	if c.Store.Region == "" {
		c.Store.Region = "us-west-2"
	}
	if c.Source.AWSRegion == "" {
		c.Source.AWSRegion = c.Store.Region
	}
	if c.Store.Table == "" {
		c.Store.Table = "catalog"
	}
	if c.Store.BatchSize <= 0 {
		c.Store.BatchSize = 100
	}
	if c.Store.Workers <= 0 {
		c.Store.Workers = 4
	}
	if c.Store.ScanPageSize <= 0 {
		c.Store.ScanPageSize = 500
	}
	c.Store.Retry.applyDefaults()
	if c.Search.Index == "" {
		c.Search.Index = "catalog"
	}
	if c.Search.KeyPrefix == "" {
		c.Search.KeyPrefix = "catalogsync:"
	}
	if c.Search.BulkSize <= 0 {
		c.Search.BulkSize = 50
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = 4
	}
	if c.Search.VectorAlgorithm == "" {
		c.Search.VectorAlgorithm = "HNSW"
	}
	if c.Search.DistanceMetric == "" {
		c.Search.DistanceMetric = "COSINE"
	}
	if c.Search.HNSWM <= 0 {
		c.Search.HNSWM = 16
	}
	if c.Search.HNSWEFConstruct <= 0 {
		c.Search.HNSWEFConstruct = 200
	}
	if c.Search.ReadinessTimeout <= 0 {
		c.Search.ReadinessTimeout = 10
	}
	c.Search.Retry.applyDefaults()
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.Burst <= 0 {
		c.Embedding.Burst = 1
	}
	if c.Embedding.ChunkSize <= 0 {
		c.Embedding.ChunkSize = 64
	}
	if c.Summary.ErrorsPerCategory <= 0 {
		c.Summary.ErrorsPerCategory = 5
	}
}

func (r *RetryConfig) applyDefaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.InitialMs <= 0 {
		r.InitialMs = 200
	}
	if r.MaxMs <= 0 {
		r.MaxMs = 5000
	}
}

// Validate checks the configuration for correctness. Tenant and source
// credentials are checked by the command, since flags may supply them.
func (c *Config) Validate() error {
	if c.Store.BatchSize > 1000 {
		return fmt.Errorf("store.batch_size must be at most 1000, got %d", c.Store.BatchSize)
	}
	if len(c.Search.Addrs) == 0 {
		return fmt.Errorf("search.addrs is required")
	}
	if c.Embedding.Enabled && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required when embedding is enabled")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return fmt.Errorf("embedding.requests_per_second must not be negative, got %v", c.Embedding.RequestsPerSecond)
	}
	if c.Source.Poll.InitialSec > c.Source.Poll.MaxSec {
		return fmt.Errorf("source.poll.initial_sec (%d) exceeds max_sec (%d)", c.Source.Poll.InitialSec, c.Source.Poll.MaxSec)
	}
	return validateTags(c)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateTags checks the `validate` struct tags and reports the first
// violation by its YAML path.
func validateTags(c *Config) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s failed %s=%s, got %v", yamlPath(fe.StructNamespace()), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s failed %s, got %q", yamlPath(fe.StructNamespace()), fe.Tag(), fmt.Sprint(fe.Value()))
}

// yamlPath maps "Config.Store.ScanPageSize" to "store.scan_page_size".
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Policy converts r to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Initial:     time.Duration(r.InitialMs) * time.Millisecond,
		Max:         time.Duration(r.MaxMs) * time.Millisecond,
		Factor:      2,
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
