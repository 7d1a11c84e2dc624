package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Harvest       HarvestConfig
	Query         QueryConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Maintenance   MaintenanceConfig
	Relations     RelationsConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// HarvestConfig holds the telemetry service credentials and transport
// settings. BaseURL overrides the coverage endpoints when set.
type HarvestConfig struct {
	AuthKeyID     string
	AuthKeySecret string
	BaseURL       string
	Timeout       time.Duration
	UserAgent     string
}

type QueryConfig struct {
	DefaultRowLimit int
	Timeout         time.Duration
}

// CatalogConfig points at the Postgres database that persists relation
// definitions. An empty DSN disables the catalog.
type CatalogConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool
}

type ObjectStoreConfig struct {
	ExportEnabled    bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// MaintenanceConfig drives export retention. A zero RetentionInterval
// disables the background loop; on-demand runs stay available.
type MaintenanceConfig struct {
	RetentionInterval    time.Duration
	KeepExports          int
	SafetyAge            time.Duration
	IntegrityExportLimit int
}

type RelationsConfig struct {
	File string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("HARVESTQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid HARVESTQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "HARVESTQL_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_AUTH_KEY_ID", &cfg.Harvest.AuthKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_AUTH_KEY_SECRET", &cfg.Harvest.AuthKeySecret); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_HARVEST_BASE_URL", &cfg.Harvest.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_HARVEST_TIMEOUT", &cfg.Harvest.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_HARVEST_USER_AGENT", &cfg.Harvest.UserAgent); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "HARVESTQL_QUERY_DEFAULT_ROW_LIMIT", &cfg.Query.DefaultRowLimit); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_QUERY_TIMEOUT", &cfg.Query.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_CATALOG_DSN", &cfg.Catalog.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "HARVESTQL_CATALOG_MAX_OPEN_CONNS", &cfg.Catalog.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "HARVESTQL_CATALOG_MAX_IDLE_CONNS", &cfg.Catalog.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_CATALOG_CONN_MAX_IDLE_TIME", &cfg.Catalog.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_CATALOG_CONN_MAX_LIFETIME", &cfg.Catalog.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_CATALOG_PING_TIMEOUT", &cfg.Catalog.PingTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_CATALOG_AUTO_MIGRATE", &cfg.Catalog.AutoMigrate); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_EXPORT_ENABLED", &cfg.ObjectStore.ExportEnabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_EXPORT_RETENTION_INTERVAL", &cfg.Maintenance.RetentionInterval); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "HARVESTQL_EXPORT_KEEP", &cfg.Maintenance.KeepExports); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "HARVESTQL_EXPORT_RETENTION_SAFETY_AGE", &cfg.Maintenance.SafetyAge); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "HARVESTQL_EXPORT_INTEGRITY_LIMIT", &cfg.Maintenance.IntegrityExportLimit); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_RELATIONS_FILE", &cfg.Relations.File); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "HARVESTQL_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "HARVESTQL_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "HARVESTQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Query.DefaultRowLimit < 0 {
		return Config{}, fmt.Errorf("invalid HARVESTQL_QUERY_DEFAULT_ROW_LIMIT: must be >= 0")
	}
	if cfg.Maintenance.KeepExports < 1 {
		return Config{}, fmt.Errorf("invalid HARVESTQL_EXPORT_KEEP: must be >= 1")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "harvestql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Harvest: HarvestConfig{
			Timeout:   30 * time.Second,
			UserAgent: "harvestql",
		},
		Query: QueryConfig{
			DefaultRowLimit: 1000,
			Timeout:         30 * time.Second,
		},
		Catalog: CatalogConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
			AutoMigrate:     true,
		},
		ObjectStore: ObjectStoreConfig{
			ExportEnabled:    false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "harvestql",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Maintenance: MaintenanceConfig{
			RetentionInterval:    0,
			KeepExports:          5,
			SafetyAge:            10 * time.Minute,
			IntegrityExportLimit: 50,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
		cfg.Catalog.AutoMigrate = false
		cfg.Maintenance.RetentionInterval = 15 * time.Minute
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
