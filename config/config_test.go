package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leadboard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.WriteTimeout != 10*time.Second || cfg.Redis.Channel != "board-items" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
backend: azure
storage:
  connection_string: UseDevelopmentStorage=true
  items_table: Items
  columns_table: Cols
write_timeout: 3s
columns: [A, B]
redis:
  cache_ttl: 30s
`)
	t.Setenv("ITEMS_TABLE", "ItemsFromEnv")
	t.Setenv("ITEMS_PAGE_SIZE", "50")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendAzure || cfg.Storage.ColumnsTable != "Cols" || cfg.Storage.ItemsTable != "ItemsFromEnv" {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.WriteTimeout != 3*time.Second || cfg.Redis.CacheTTL != 30*time.Second {
		t.Fatalf("durations not parsed: %v %v", cfg.WriteTimeout, cfg.Redis.CacheTTL)
	}
	if cfg.Storage.PageSize != 50 || !cfg.Debug || len(cfg.Columns) != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.DedupeTTL != 24*time.Hour {
		t.Fatalf("unset keys keep defaults, got %v", cfg.Redis.DedupeTTL)
	}
}

func TestConnectionStringSelectsAzure(t *testing.T) {
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendAzure {
		t.Fatalf("expected azure backend, got %q", cfg.Backend)
	}
}

func TestInvalidEnvValues(t *testing.T) {
	for name, val := range map[string]string{
		"ITEMS_PAGE_SIZE": "0",
		"WRITE_TIMEOUT":   "soon",
		"DEBUG":           "maybe",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", name, val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendAzure
	if err := cfg.Validate(); err == nil {
		t.Fatalf("azure without connection string must fail")
	}
	cfg = Default()
	cfg.Backend = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown backend must fail")
	}
	cfg = Default()
	cfg.Columns = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("empty column list must fail")
	}
}

func TestParseRedisOptions(t *testing.T) {
	opts, err := ParseRedisOptions("redis://:secret@localhost:6380/2")
	if err != nil || opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v %v", opts, err)
	}

	opts, err = ParseRedisOptions("cache.redis.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure form: %v", err)
	}
	if opts.Addr != "cache.redis.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options %+v", opts)
	}

	if _, err := ParseRedisOptions(",password=x"); err == nil {
		t.Fatalf("missing host must fail")
	}

	cfg := Default()
	if opts, err := cfg.RedisOptions(); err != nil || opts != nil {
		t.Fatalf("unset redis should yield nil options, got %+v %v", opts, err)
	}
}

func TestAuthMode(t *testing.T) {
	cfg := Default()
	if cfg.AuthMode() != "jwks" {
		t.Fatalf("unexpected mode %q", cfg.AuthMode())
	}
	cfg.Auth.SharedSecret = "s"
	if cfg.AuthMode() != "shared-secret" {
		t.Fatalf("unexpected mode %q", cfg.AuthMode())
	}
	t.Setenv("AUTH0_TEST_MODE", "1")
	cfg, _ = Load("")
	if cfg.AuthMode() != "disabled" {
		t.Fatalf("unexpected mode %q", cfg.AuthMode())
	}
}
