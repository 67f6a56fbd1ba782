package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{Search: SearchConfig{Addrs: []string{"localhost:6379"}}}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing search addrs",
			mutate:  func(c *Config) { c.Search.Addrs = nil },
			wantErr: "search.addrs is required",
		},
		{
			name:    "embedding without key",
			mutate:  func(c *Config) { c.Embedding.Enabled = true },
			wantErr: "embedding.api_key is required when embedding is enabled",
		},
		{
			name:    "negative rps",
			mutate:  func(c *Config) { c.Embedding.RequestsPerSecond = -1 },
			wantErr: "embedding.requests_per_second must not be negative, got -1",
		},
		{
			name:    "oversized batch",
			mutate:  func(c *Config) { c.Store.BatchSize = 5000 },
			wantErr: "store.batch_size must be at most 1000, got 5000",
		},
		{
			name:    "bad search addr",
			mutate:  func(c *Config) { c.Search.Addrs = []string{"localhost"} },
			wantErr: `search.addrs[0] failed hostname_port, got "localhost"`,
		},
		{
			name:    "too many store workers",
			mutate:  func(c *Config) { c.Store.Workers = 100 },
			wantErr: "store.workers failed max=64, got 100",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Search.Retry.MaxAttempts = 0 },
			wantErr: "search.retry.max_attempts failed min=1, got 0",
		},
		{
			name:    "bad store endpoint",
			mutate:  func(c *Config) { c.Store.Endpoint = "not a url" },
			wantErr: `store.endpoint failed url, got "not a url"`,
		},
		{
			name:    "unknown distance metric",
			mutate:  func(c *Config) { c.Search.DistanceMetric = "MANHATTAN" },
			wantErr: "search.distance_metric failed oneof=COSINE L2 IP, got MANHATTAN",
		},
		{
			name:    "poll initial above max",
			mutate:  func(c *Config) { c.Source.Poll.InitialSec = 60 },
			wantErr: "source.poll.initial_sec (60) exceeds max_sec (30)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != "" && err == nil:
				t.Fatalf("expected error %q", tt.wantErr)
			case tt.wantErr != "" && err.Error() != tt.wantErr:
				t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Store.BatchSize != 100 {
		t.Errorf("expected BatchSize=100, got %d", cfg.Store.BatchSize)
	}
	if cfg.Store.Table != "catalog" {
		t.Errorf("expected Table=catalog, got %q", cfg.Store.Table)
	}
	if cfg.Search.BulkSize != 50 {
		t.Errorf("expected BulkSize=50, got %d", cfg.Search.BulkSize)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %q", cfg.Embedding.Model)
	}
	if cfg.Source.AWSRegion != cfg.Store.Region {
		t.Errorf("expected source region to follow store region, got %q", cfg.Source.AWSRegion)
	}
	if cfg.Search.VectorAlgorithm != "HNSW" || cfg.Search.DistanceMetric != "COSINE" {
		t.Errorf("expected HNSW/COSINE, got %s/%s", cfg.Search.VectorAlgorithm, cfg.Search.DistanceMetric)
	}
	if cfg.Summary.ErrorsPerCategory != 5 {
		t.Errorf("expected ErrorsPerCategory=5, got %d", cfg.Summary.ErrorsPerCategory)
	}
	p := cfg.Store.Retry.Policy()
	if p.MaxAttempts != 5 || p.Initial != 200*time.Millisecond || p.Max != 5*time.Second {
		t.Errorf("unexpected retry policy: %+v", p)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		Store:  StoreConfig{BatchSize: 25, Table: "custom", Region: "eu-west-1"},
		Search: SearchConfig{KeyPrefix: "custom:", HNSWM: 32},
	}
	cfg.ApplyDefaults()

	if cfg.Store.BatchSize != 25 {
		t.Errorf("expected BatchSize=25, got %d", cfg.Store.BatchSize)
	}
	if cfg.Store.Table != "custom" {
		t.Errorf("expected Table=custom, got %q", cfg.Store.Table)
	}
	if cfg.Source.AWSRegion != "eu-west-1" {
		t.Errorf("expected AWSRegion=eu-west-1, got %q", cfg.Source.AWSRegion)
	}
	if cfg.Search.KeyPrefix != "custom:" || cfg.Search.HNSWM != 32 {
		t.Errorf("search overrides lost: %+v", cfg.Search)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("CATALOGSYNC_TEST_TABLE", "from-env")

	cfg, err := Parse([]byte(`
tenant: shop.example.com
store:
  table: ${CATALOGSYNC_TEST_TABLE}
search:
  addrs: ["${CATALOGSYNC_TEST_UNSET:-localhost:6379}"]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tenant != "shop.example.com" {
		t.Errorf("tenant = %q", cfg.Tenant)
	}
	if cfg.Store.Table != "from-env" {
		t.Errorf("table = %q", cfg.Store.Table)
	}
	if len(cfg.Search.Addrs) != 1 || cfg.Search.Addrs[0] != "localhost:6379" {
		t.Errorf("addrs = %v", cfg.Search.Addrs)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("search: [")); err == nil {
		t.Error("expected YAML error")
	}
	if _, err := Parse([]byte("tenant: x")); err == nil {
		t.Error("expected validation error for missing search addrs")
	}
}

func TestYAMLPath(t *testing.T) {
	tests := map[string]string{
		"Config.Store.ScanPageSize":      "store.scan_page_size",
		"Config.Source.APIVersion":       "source.api_version",
		"Config.Search.Retry.MaxAttempts": "search.retry.max_attempts",
		"Config.Embedding.BaseURL":       "embedding.base_url",
	}
	for in, want := range tests {
		if got := yamlPath(in); got != want {
			t.Errorf("yamlPath(%q) = %q, want %q", in, got, want)
		}
	}
}
