// Package config loads server configuration from an optional YAML file
// overlaid with environment variables. Environment always wins, so
// deployments can ship a baseline file and override secrets at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cardshield/rulegov/pkg/objstore"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// DatabaseConfig selects the SQL backend. Driver is "postgres" or
// "sqlite".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObjectStoreConfig selects and parameterizes the artifact store.
type ObjectStoreConfig struct {
	Backend   string `yaml:"backend"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AuthConfig holds token verification settings. An empty secret fails
// closed: every authenticated route rejects.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// RedisConfig parameterizes the optional catalog cache. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the full server configuration.
type Config struct {
	Environment string            `yaml:"environment"`
	Region      string            `yaml:"region"`
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Auth        AuthConfig        `yaml:"auth"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Redis       RedisConfig       `yaml:"redis"`
}

func defaults() *Config {
	return &Config{
		Environment: "dev",
		Region:      "local",
		LogLevel:    "INFO",
		Server: ServerConfig{
			Addr:      ":8080",
			RateRPS:   50,
			RateBurst: 100,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:rulegov.db?_pragma=foreign_keys(1)",
		},
		ObjectStore: ObjectStoreConfig{
			Backend: "fs",
			Root:    "./artifacts",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "rulegov",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// when non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("RULEGOV_ENVIRONMENT", &cfg.Environment)
	envStr("RULEGOV_REGION", &cfg.Region)
	envStr("LOG_LEVEL", &cfg.LogLevel)

	envStr("RULEGOV_ADDR", &cfg.Server.Addr)
	envFloat("RULEGOV_RATE_RPS", &cfg.Server.RateRPS)
	envInt("RULEGOV_RATE_BURST", &cfg.Server.RateBurst)

	envStr("RULEGOV_DB_DRIVER", &cfg.Database.Driver)
	envStr("DATABASE_URL", &cfg.Database.DSN)

	envStr("RULEGOV_OBJSTORE_BACKEND", &cfg.ObjectStore.Backend)
	envStr("RULEGOV_OBJSTORE_ROOT", &cfg.ObjectStore.Root)
	envStr("RULEGOV_OBJSTORE_BUCKET", &cfg.ObjectStore.Bucket)
	envStr("RULEGOV_OBJSTORE_REGION", &cfg.ObjectStore.Region)
	envStr("RULEGOV_OBJSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	envStr("RULEGOV_OBJSTORE_PREFIX", &cfg.ObjectStore.Prefix)
	envBool("RULEGOV_OBJSTORE_PATH_STYLE", &cfg.ObjectStore.PathStyle)
	envStr("RULEGOV_OBJSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	envStr("RULEGOV_OBJSTORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)

	envStr("RULEGOV_JWT_SECRET", &cfg.Auth.JWTSecret)

	envBool("RULEGOV_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envStr("OTEL_SERVICE_NAME", &cfg.Telemetry.ServiceName)

	envStr("REDIS_ADDR", &cfg.Redis.Addr)
	envStr("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database driver %q is not postgres or sqlite", c.Database.Driver)
	}
	switch objstore.Backend(c.ObjectStore.Backend) {
	case objstore.BackendFS, objstore.BackendS3, objstore.BackendGCS:
	default:
		return fmt.Errorf("object store backend %q is not fs, s3, or gcs", c.ObjectStore.Backend)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

// ObjstoreConfig maps the object-store section onto the objstore
// factory's config.
func (c *Config) ObjstoreConfig() objstore.Config {
	return objstore.Config{
		Backend:   objstore.Backend(c.ObjectStore.Backend),
		Root:      c.ObjectStore.Root,
		Bucket:    c.ObjectStore.Bucket,
		Region:    c.ObjectStore.Region,
		Endpoint:  c.ObjectStore.Endpoint,
		Prefix:    c.ObjectStore.Prefix,
		PathStyle: c.ObjectStore.PathStyle,
		AccessKey: c.ObjectStore.AccessKey,
		SecretKey: c.ObjectStore.SecretKey,
	}
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
