package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("profile = %q", cfg.Profile)
	}
	if cfg.Service.Name != "querylens-api" {
		t.Fatalf("service name = %q", cfg.Service.Name)
	}
	if cfg.Database.Backend != BackendPostgres {
		t.Fatalf("backend = %q", cfg.Database.Backend)
	}
	if cfg.Database.MaxRows != 1000 {
		t.Fatalf("max rows = %d", cfg.Database.MaxRows)
	}
	if cfg.Database.StatementTimeout != 10*time.Second {
		t.Fatalf("statement timeout = %v", cfg.Database.StatementTimeout)
	}
	if cfg.Auth.Required {
		t.Fatal("auth should be optional in dev")
	}
}

func TestLoadProdProfileHardensDefaults(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{
		"QUERYLENS_PROFILE": "prod",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("prod must require auth")
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("prod must log JSON")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{
		"QUERYLENS_HTTP_ADDR":            ":9999",
		"QUERYLENS_DB_BACKEND":           "duckdb",
		"QUERYLENS_DB_MAX_ROWS":          "250",
		"QUERYLENS_DB_STATEMENT_TIMEOUT": "3s",
		"QUERYLENS_SCHEMA_SOURCE":        "file",
		"QUERYLENS_SCHEMA_PATH":          "/etc/querylens/schema.json",
		"QUERYLENS_AI_MODEL":             "gpt-4o",
		"QUERYLENS_AI_MAX_ATTEMPTS":      "3",
		"QUERYLENS_OBJECTSTORE_ENDPOINT": "minio:9000",
		"QUERYLENS_OBJECTSTORE_BUCKET":   "datasets",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("addr = %q", cfg.HTTP.Address)
	}
	if cfg.Database.Backend != BackendDuckDB {
		t.Fatalf("backend = %q", cfg.Database.Backend)
	}
	if cfg.Database.MaxRows != 250 {
		t.Fatalf("max rows = %d", cfg.Database.MaxRows)
	}
	if cfg.Database.StatementTimeout != 3*time.Second {
		t.Fatalf("statement timeout = %v", cfg.Database.StatementTimeout)
	}
	if cfg.AI.Model != "gpt-4o" || cfg.AI.MaxAttempts != 3 {
		t.Fatalf("ai config = %+v", cfg.AI)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []map[string]string{
		{"QUERYLENS_PROFILE": "staging"},
		{"QUERYLENS_DB_BACKEND": "sqlite"},
		{"QUERYLENS_DB_MAX_ROWS": "0"},
		{"QUERYLENS_DB_MAX_ROWS": "abc"},
		{"QUERYLENS_SCHEMA_SOURCE": "guess"},
		{"QUERYLENS_SCHEMA_SOURCE": "file"},
		{"QUERYLENS_DB_BACKEND": "duckdb"},
		{"QUERYLENS_LOG_LEVEL": "loud"},
	}
	for _, values := range cases {
		if _, err := Load("querylens-api", mapLookup(values)); err == nil {
			t.Fatalf("expected error for %v", values)
		}
	}
}

func TestLoadDuckDBRequiresFileSchema(t *testing.T) {
	_, err := Load("querylens-api", mapLookup(map[string]string{
		"QUERYLENS_DB_BACKEND":    "duckdb",
		"QUERYLENS_SCHEMA_SOURCE": "catalog",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
}
