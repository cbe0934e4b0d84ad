package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Run("DefaultsAreValid", func(t *testing.T) {
		if err := Validate(GetDefaults()); err != nil {
			t.Fatalf("Default configuration failed validation: %v", err)
		}
	})

	t.Run("RejectsThresholdOutOfRange", func(t *testing.T) {
		cfg := GetDefaults()
		entity := cfg.Entities["email"]
		entity.ConfidenceThreshold = 1.5
		cfg.Entities["email"] = entity

		if err := Validate(cfg); err == nil {
			t.Error("Threshold above 1.0 not rejected")
		}
	})

	t.Run("RejectsBrokenRegex", func(t *testing.T) {
		cfg := GetDefaults()
		entity := cfg.Entities["email"]
		entity.RegexPatterns = []RegexPattern{{Name: "broken", Pattern: "([a-z", Score: 0.5}}
		cfg.Entities["email"] = entity

		if err := Validate(cfg); err == nil {
			t.Error("Non-compiling regex not rejected")
		}
	})

	t.Run("RejectsUnknownStrategy", func(t *testing.T) {
		cfg := GetDefaults()
		entity := cfg.Entities["phone"]
		entity.Strategy = "scramble"
		cfg.Entities["phone"] = entity

		if err := Validate(cfg); err == nil {
			t.Error("Unknown strategy not rejected")
		}
	})

	t.Run("RejectsBadBatchSize", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.BatchProcessing.BatchSize = 0
		if err := Validate(cfg); err == nil {
			t.Error("Zero batch size not rejected")
		}
	})

	t.Run("RejectsBadErrorPolicy", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Processing.ErrorPolicy = "retry"
		if err := Validate(cfg); err == nil {
			t.Error("Unknown error policy not rejected")
		}
	})

	t.Run("RejectsBadLogLevel", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Level = "verbose"
		if err := Validate(cfg); err == nil {
			t.Error("Unknown log level not rejected")
		}
	})
}

func TestLoadStorageKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonymizer.json")
	content := `{
		"storage": {
			"source_database_url": "postgres://user:pass@db/in",
			"database_url": "postgres://user:pass@db/out"
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.SourceDatabaseURL != "postgres://user:pass@db/in" {
		t.Errorf("SourceDatabaseURL = %q", cfg.Storage.SourceDatabaseURL)
	}
	if cfg.Storage.DatabaseURL != "postgres://user:pass@db/out" {
		t.Errorf("DatabaseURL = %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Storage.MaxOpenConns != 8 {
		t.Errorf("MaxOpenConns = %d, want default 8", cfg.Storage.MaxOpenConns)
	}
}

func TestTableAllowed(t *testing.T) {
	cfg := GetDefaults()
	cfg.Detection.AllowTables = []string{"results"}

	if !cfg.TableAllowed("results") {
		t.Error("Allow-listed table rejected")
	}
	if cfg.TableAllowed("users") {
		t.Error("Table outside allow-list accepted")
	}

	cfg.Detection.AllowTables = nil
	if !cfg.TableAllowed("anything") {
		t.Error("Empty allow-list should allow every table")
	}
}

func TestEntityByType(t *testing.T) {
	cfg := GetDefaults()

	entity, ok := cfg.EntityByType("EMAIL_ADDRESS")
	if !ok {
		t.Fatal("EMAIL_ADDRESS not found")
	}
	if entity.Strategy != StrategyCustom {
		t.Errorf("EMAIL_ADDRESS strategy = %q, want custom", entity.Strategy)
	}

	if _, ok := cfg.EntityByType("IBAN"); ok {
		t.Error("Unknown entity type reported as present")
	}
}

func TestEnabledEntities(t *testing.T) {
	cfg := GetDefaults()
	entity := cfg.Entities["location"]
	entity.Enabled = false
	cfg.Entities["location"] = entity

	for _, entityType := range cfg.EnabledEntities() {
		if entityType == "LOCATION" {
			t.Error("Disabled entity listed as enabled")
		}
	}
}
