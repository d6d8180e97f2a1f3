// Package config loads lead-board settings from YAML and the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	BackendAzure  = "azure"
	BackendSQLite = "sqlite"
)

// DefaultColumns seeds an empty column table.
var DefaultColumns = []string{"Entrada", "Contato feito", "Visita agendada", "Proposta", "Fechado", "Descartado"}

// Config is the full application configuration.
type Config struct {
	Backend      string        `yaml:"backend"`
	SQLitePath   string        `yaml:"sqlite_path"`
	Storage      StorageConfig `yaml:"storage"`
	Redis        RedisConfig   `yaml:"redis"`
	Auth         AuthConfig    `yaml:"auth"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ListenAddr   string        `yaml:"listen_addr"`
	Columns      []string      `yaml:"columns"`
	Debug        bool          `yaml:"debug"`
}

type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	ItemsTable       string `yaml:"items_table"`
	ColumnsTable     string `yaml:"columns_table"`
	EventsQueue      string `yaml:"events_queue"`
	PageSize         int    `yaml:"page_size"`
}

// RedisConfig configures the change feed, dedupe and read cache. An empty
// connection string runs without Redis.
type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	Channel          string        `yaml:"channel"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
}

type AuthConfig struct {
	Domain       string `yaml:"domain"`
	Audience     string `yaml:"audience"`
	SharedSecret string `yaml:"shared_secret"`
	Disabled     bool   `yaml:"disabled"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:    BackendSQLite,
		SQLitePath: "leadboard.db",
		Storage: StorageConfig{
			ItemsTable:   "Imoveis",
			ColumnsTable: "KanbanColunas",
			PageSize:     1000,
		},
		Redis: RedisConfig{
			Channel:   "board-items",
			CacheTTL:  time.Minute,
			DedupeTTL: 24 * time.Hour,
		},
		WriteTimeout: 10 * time.Second,
		ListenAddr:   ":8080",
		Columns:      append([]string(nil), DefaultColumns...),
	}
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("STORAGE_CONNECTION_STRING"); v != "" {
		c.Storage.ConnectionString = v
		c.Backend = BackendAzure
	}
	setString(&c.Backend, "BOARD_BACKEND")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.Storage.ItemsTable, "ITEMS_TABLE")
	setString(&c.Storage.ColumnsTable, "COLUMNS_TABLE")
	setString(&c.Storage.EventsQueue, "EVENTS_QUEUE")
	setString(&c.Redis.ConnectionString, "REDIS_CONNECTION_STRING")
	setString(&c.Redis.Channel, "BOARD_CHANNEL")
	setString(&c.Auth.Domain, "AUTH0_DOMAIN")
	setString(&c.Auth.Audience, "AUTH0_AUDIENCE")
	setString(&c.Auth.SharedSecret, "LOCAL_AUTH_SHARED_SECRET")
	setString(&c.ListenAddr, "LISTEN_ADDR")

	if err := setPositiveInt(&c.Storage.PageSize, "ITEMS_PAGE_SIZE"); err != nil {
		return err
	}
	for name, dst := range map[string]*time.Duration{
		"WRITE_TIMEOUT": &c.WriteTimeout,
		"CACHE_TTL":     &c.Redis.CacheTTL,
		"DEDUPER_TTL":   &c.Redis.DedupeTTL,
	} {
		if err := setDuration(dst, name); err != nil {
			return err
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
		c.Debug = dbg
	}
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		c.Auth.Disabled = true
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setPositiveInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if n <= 0 {
		return fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	*dst = d
	return nil
}

// Validate reports settings the selected backend cannot run without.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAzure:
		if c.Storage.ConnectionString == "" || c.Storage.ItemsTable == "" || c.Storage.ColumnsTable == "" {
			return errors.New("missing storage config")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing sqlite path")
		}
	default:
		return fmt.Errorf("unknown backend %q (valid: %s, %s)", c.Backend, BackendAzure, BackendSQLite)
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than zero")
	}
	if len(c.Columns) == 0 {
		return errors.New("at least one column is required")
	}
	return nil
}

// AuthMode names how the HTTP API authenticates callers.
func (c *Config) AuthMode() string {
	switch {
	case c.Auth.Disabled:
		return "disabled"
	case c.Auth.SharedSecret != "":
		return "shared-secret"
	default:
		return "jwks"
	}
}

// RedisOptions parses the Redis connection string, accepting either a
// redis:// URL or the Azure form "host:port,password=...,ssl=true". It
// returns nil when Redis is not configured.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.ConnectionString == "" {
		return nil, nil
	}
	return ParseRedisOptions(c.Redis.ConnectionString)
}

func ParseRedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
