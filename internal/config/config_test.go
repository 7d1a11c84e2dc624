package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("harvestql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Harvest.AuthKeyID != "" || cfg.Harvest.AuthKeySecret != "" {
		t.Fatal("credentials must not have defaults")
	}
	if cfg.Harvest.Timeout != 30*time.Second {
		t.Fatalf("Harvest.Timeout = %s", cfg.Harvest.Timeout)
	}
	if cfg.Query.DefaultRowLimit != 1000 {
		t.Fatalf("Query.DefaultRowLimit = %d", cfg.Query.DefaultRowLimit)
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("Catalog.DSN = %q, want empty", cfg.Catalog.DSN)
	}
	if cfg.ObjectStore.ExportEnabled {
		t.Fatal("ObjectStore.ExportEnabled should default to false")
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Maintenance.RetentionInterval != 0 || cfg.Maintenance.KeepExports != 5 {
		t.Fatalf("Maintenance = %+v", cfg.Maintenance)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"HARVESTQL_PROFILE": "prod"})
	cfg, err := Load("harvestql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
	if cfg.Maintenance.RetentionInterval != 15*time.Minute {
		t.Fatalf("Maintenance.RetentionInterval = %s", cfg.Maintenance.RetentionInterval)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"HARVESTQL_PROFILE":                   "test",
		"HARVESTQL_HTTP_ADDR":                 ":9999",
		"HARVESTQL_HTTP_READ_TIMEOUT":         "2s",
		"HARVESTQL_LOG_LEVEL":                 "error",
		"HARVESTQL_AUTH_REQUIRED":             "true",
		"HARVESTQL_AUTH_STATIC_KEYS":          "k1:query_reader",
		"HARVESTQL_AUTH_KEY_ID":               " keyId-abc ",
		"HARVESTQL_AUTH_KEY_SECRET":           "secret-def",
		"HARVESTQL_HARVEST_BASE_URL":          "http://localhost:9090",
		"HARVESTQL_HARVEST_TIMEOUT":           "7s",
		"HARVESTQL_QUERY_DEFAULT_ROW_LIMIT":   "50",
		"HARVESTQL_CATALOG_DSN":               "postgres://example",
		"HARVESTQL_CATALOG_MAX_OPEN_CONNS":    "42",
		"HARVESTQL_EXPORT_ENABLED":            "true",
		"HARVESTQL_OBJECTSTORE_BUCKET":        "harvest-prod",
		"HARVESTQL_OBJECTSTORE_USE_SSL":       "true",
		"HARVESTQL_RELATIONS_FILE":            "/etc/harvestql/relations.yaml",
		"HARVESTQL_EXPORT_KEEP":               "2",
		"HARVESTQL_EXPORT_RETENTION_INTERVAL": "1m",
		"HARVESTQL_SERVICE_NAME":              "harvestql-custom",
	})
	cfg, err := Load("harvestql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "harvestql-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Harvest.AuthKeyID != "keyId-abc" {
		t.Fatalf("Harvest.AuthKeyID = %q", cfg.Harvest.AuthKeyID)
	}
	if cfg.Harvest.AuthKeySecret != "secret-def" {
		t.Fatalf("Harvest.AuthKeySecret = %q", cfg.Harvest.AuthKeySecret)
	}
	if cfg.Harvest.BaseURL != "http://localhost:9090" {
		t.Fatalf("Harvest.BaseURL = %q", cfg.Harvest.BaseURL)
	}
	if cfg.Harvest.Timeout != 7*time.Second {
		t.Fatalf("Harvest.Timeout = %s", cfg.Harvest.Timeout)
	}
	if cfg.Query.DefaultRowLimit != 50 {
		t.Fatalf("Query.DefaultRowLimit = %d", cfg.Query.DefaultRowLimit)
	}
	if cfg.Catalog.DSN != "postgres://example" {
		t.Fatalf("Catalog.DSN = %q", cfg.Catalog.DSN)
	}
	if cfg.Catalog.MaxOpenConns != 42 {
		t.Fatalf("Catalog.MaxOpenConns = %d", cfg.Catalog.MaxOpenConns)
	}
	if !cfg.ObjectStore.ExportEnabled {
		t.Fatal("ObjectStore.ExportEnabled = false, want true")
	}
	if cfg.ObjectStore.Bucket != "harvest-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.Relations.File != "/etc/harvestql/relations.yaml" {
		t.Fatalf("Relations.File = %q", cfg.Relations.File)
	}
	if cfg.Maintenance.KeepExports != 2 || cfg.Maintenance.RetentionInterval != time.Minute {
		t.Fatalf("Maintenance = %+v", cfg.Maintenance)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"HARVESTQL_PROFILE": "oops"},
		{"HARVESTQL_HTTP_READ_TIMEOUT": "NaN"},
		{"HARVESTQL_HARVEST_TIMEOUT": "soon"},
		{"HARVESTQL_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"HARVESTQL_QUERY_DEFAULT_ROW_LIMIT": "-1"},
		{"HARVESTQL_EXPORT_ENABLED": "maybe"},
		{"HARVESTQL_AUTH_REQUIRED": "not-bool"},
		{"HARVESTQL_LOG_LEVEL": "verbose"},
		{"HARVESTQL_EXPORT_KEEP": "0"},
		{"HARVESTQL_EXPORT_RETENTION_INTERVAL": "often"},
	}
	for _, env := range tests {
		_, err := Load("harvestql-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
