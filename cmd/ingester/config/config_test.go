package config

import (
	"bytes"
	"context"
	"testing"

	"statement-ingestion-service/internal/ingest"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/internal/reporter"
	"statement-ingestion-service/internal/store"
	"statement-ingestion-service/pkg/errors"
)

const sampleConfig = `
log:
  level: debug
store:
  driver: sqlite
  dsn: ":memory:"
duplicate_policy: replace
workers: 2
banks:
  - name: chase
    preset: chase
    mapping_version: 4
  - name: eurobank
    mapping_version: "010"
    mapping:
      date: Buchungstag
      description: Verwendungszweck
      amount: Betrag
      date_format: "%d.%m.%Y"
      delimiter: ";"
      skip_rows: 1
      encoding: latin-1
accounts:
  - id: checking
    user_id: u1
    bank: chase
  - id: giro
    user_id: u1
    bank: eurobank
    mapping_override:
      description_column: Buchungstext
`

func loadSample(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := NewViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(doc)); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}

	if cfg.Store.Driver != store.DriverMemory {
		t.Errorf("expected memory store by default, got %q", cfg.Store.Driver)
	}
	if cfg.Policy() != ingest.DuplicateReject {
		t.Errorf("expected reject policy by default, got %q", cfg.Policy())
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected info log level, got %q", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := loadSample(t, sampleConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Driver != store.DriverSQLite || cfg.Store.DSN != ":memory:" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Policy() != ingest.DuplicateReplace {
		t.Errorf("expected replace policy, got %q", cfg.Policy())
	}
	if len(cfg.Banks) != 2 || len(cfg.Accounts) != 2 {
		t.Fatalf("expected 2 banks and 2 accounts, got %d and %d", len(cfg.Banks), len(cfg.Accounts))
	}

	registry, err := cfg.Registry()
	if err != nil {
		t.Fatalf("registry should build: %v", err)
	}

	chase, err := registry.MappingFor(context.Background(), models.AccountContext{UserID: "u1", AccountID: "checking"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chase.Version != 4 {
		t.Errorf("expected mapping version 4, got %d", chase.Version)
	}
	if chase.Bank.Date != "Posting Date" {
		t.Errorf("expected preset date column, got %q", chase.Bank.Date)
	}

	giro, err := registry.MappingFor(context.Background(), models.AccountContext{UserID: "u1", AccountID: "giro"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if giro.Version != 10 {
		t.Errorf("expected string mapping version to read as decimal 10, got %d", giro.Version)
	}
	if giro.Bank.DateFormat != "2.1.2006" {
		t.Errorf("expected strptime pattern translated, got %q", giro.Bank.DateFormat)
	}
	if giro.Bank.Delimiter != ';' {
		t.Errorf("expected ';' delimiter, got %q", giro.Bank.Delimiter)
	}
	if giro.Bank.SkipRowsOrDefault() != 1 {
		t.Errorf("expected skip_rows 1, got %d", giro.Bank.SkipRowsOrDefault())
	}
	if giro.Override.Description != "Buchungstext" {
		t.Errorf("expected override description, got %q", giro.Override.Description)
	}
	if resolved := giro.Resolve(); resolved.Description != "Buchungstext" || resolved.Amount != "Betrag" {
		t.Errorf("override should win per role: %+v", resolved)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("INGESTER_STORE_DRIVER", "postgres")
	t.Setenv("INGESTER_STORE_DSN", "postgres://localhost/statements")
	t.Setenv("INGESTER_WORKERS", "8")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != store.DriverPostgres {
		t.Errorf("expected postgres from env, got %q", cfg.Store.Driver)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected 8 workers from env, got %d", cfg.Workers)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{
			name: "unknown driver",
			doc:  "store:\n  driver: oracle\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "sqlite without dsn",
			doc:  "store:\n  driver: sqlite\n",
			code: errors.CodeMissingConfig,
		},
		{
			name: "bad duplicate policy",
			doc:  "duplicate_policy: merge\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "zero workers",
			doc:  "workers: 0\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "bad log level",
			doc:  "log:\n  level: loud\n",
			code: errors.CodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSample(t, tt.doc)
			if err == nil {
				t.Fatalf("expected error but got none")
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{
			name: "unknown preset",
			doc:  "banks:\n  - name: x\n    preset: nope\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "unknown mapping key",
			doc:  "banks:\n  - name: x\n    mapping:\n      memo: Memo\n",
			code: errors.CodeUnknownRole,
		},
		{
			name: "account of unknown bank",
			doc:  "banks:\n  - name: x\naccounts:\n  - id: a\n    user_id: u\n    bank: y\n",
			code: errors.CodeInvalidConfig,
		},
		{
			name: "bad mapping version",
			doc:  "banks:\n  - name: x\n    mapping_version: latest\n",
			code: errors.CodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadSample(t, tt.doc)
			if err != nil {
				t.Fatalf("config should load: %v", err)
			}
			_, err = cfg.Registry()
			if err == nil {
				t.Fatalf("expected error but got none")
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestReportConfig(t *testing.T) {
	for _, format := range []string{"console", "JSON", " csv "} {
		cfg, err := ReportConfig(format)
		if err != nil {
			t.Errorf("format %q should be valid: %v", format, err)
			continue
		}
		if !cfg.Format.IsValid() {
			t.Errorf("format %q not normalized: %q", format, cfg.Format)
		}
	}

	if _, err := ReportConfig("xml"); err == nil {
		t.Errorf("expected error for xml format")
	}
	cfg, _ := ReportConfig("json")
	if cfg.Format != reporter.FormatJSON {
		t.Errorf("expected json format, got %q", cfg.Format)
	}
}
