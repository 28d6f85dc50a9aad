package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehr/workspace/internal/platform/kv"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	KVBackend      string   `mapstructure:"KV_BACKEND"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	KVFilePath     string   `mapstructure:"KV_FILE_PATH"`
	SQLitePath     string   `mapstructure:"SQLITE_PATH"`
	S3Bucket       string   `mapstructure:"S3_BUCKET"`
	S3Region       string   `mapstructure:"S3_REGION"`
	S3Endpoint     string   `mapstructure:"S3_ENDPOINT"`
	S3Prefix       string   `mapstructure:"S3_PREFIX"`
	S3PathStyle    bool     `mapstructure:"S3_PATH_STYLE"`
	CacheSize      int      `mapstructure:"WORKSPACE_CACHE_SIZE"`
	ViewCacheSize  int      `mapstructure:"VIEW_CACHE_SIZE"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	LoadBodyLimit  string   `mapstructure:"LOAD_BODY_LIMIT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"KV_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KV_FILE_PATH", "SQLITE_PATH",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "S3_PATH_STYLE",
	"WORKSPACE_CACHE_SIZE", "VIEW_CACHE_SIZE",
	"BODY_LIMIT", "LOAD_BODY_LIMIT", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("KV_BACKEND", kv.BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KV_FILE_PATH", "data/workspace.toml")
	v.SetDefault("SQLITE_PATH", "data/workspace.db")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "workspace/")
	v.SetDefault("WORKSPACE_CACHE_SIZE", 256)
	v.SetDefault("VIEW_CACHE_SIZE", 8)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("LOAD_BODY_LIMIT", "10M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development means "development" (no
// token required, requests without one run as the dev user) and anything else
// means "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// KVOptions maps the storage settings onto kv.Open options.
func (c *Config) KVOptions() kv.Options {
	return kv.Options{
		Backend:     c.KVBackend,
		FilePath:    c.KVFilePath,
		SQLitePath:  c.SQLitePath,
		DatabaseURL: c.DatabaseURL,
		DBMaxConns:  c.DBMaxConns,
		DBMinConns:  c.DBMinConns,
		S3: kv.S3Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			Prefix:    c.S3Prefix,
			PathStyle: c.S3PathStyle,
		},
	}
}

// Validate checks that the configuration is safe to run: the auth mode is
// known and has its key, and the selected kv backend has what it needs.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	switch c.KVBackend {
	case kv.BackendMemory:
		if c.IsProduction() {
			return fmt.Errorf("KV_BACKEND=memory loses every workspace on restart and is not allowed in production")
		}
	case kv.BackendFile:
		if c.KVFilePath == "" {
			return fmt.Errorf("KV_FILE_PATH is required when KV_BACKEND is %q", kv.BackendFile)
		}
	case kv.BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when KV_BACKEND is %q", kv.BackendSQLite)
		}
	case kv.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when KV_BACKEND is %q", kv.BackendPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case kv.BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when KV_BACKEND is %q", kv.BackendS3)
		}
	default:
		return fmt.Errorf("KV_BACKEND must be one of memory, file, sqlite, postgres, s3; got %q", c.KVBackend)
	}

	if c.CacheSize <= 0 {
		return fmt.Errorf("WORKSPACE_CACHE_SIZE must be positive, got %d", c.CacheSize)
	}
	return nil
}
