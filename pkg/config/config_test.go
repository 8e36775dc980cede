package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"

services:
  authority:
    secret: "test-secret"
    users:
      - id: "u1"
        name: "Alice"
        email: "alice@example.com"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Services.Files.Port != DefaultFilesPort {
		t.Errorf("Expected files port %d, got %d", DefaultFilesPort, cfg.Services.Files.Port)
	}
	if !cfg.Services.Files.Enabled || !cfg.Services.Notifier.Enabled || !cfg.Services.Authority.Enabled {
		t.Errorf("Expected all services enabled by default, got %+v", cfg.Services)
	}
	if cfg.Auth.VerifyURL != "http://localhost:5000/api/users/verify" {
		t.Errorf("Expected verify_url to target the local authority, got %q", cfg.Auth.VerifyURL)
	}
	if len(cfg.Services.Authority.Users) != 1 || cfg.Services.Authority.Users[0].Email != "alice@example.com" {
		t.Errorf("Expected one configured user, got %+v", cfg.Services.Authority.Users)
	}
}

func TestLoad_ServiceSections(t *testing.T) {
	configPath := writeConfig(t, `
records:
  type: sqlite
  sqlite:
    path: /var/lib/dittoshare/records.db

cache:
  type: redis
  ttl: 10m
  redis:
    addr: redis:6379

notify:
  type: http
  http:
    base_url: http://notifier:6000
    timeout: 2s

services:
  files:
    port: 8080
    max_upload_bytes: 1048576
    read_timeout: 1m
  notifier:
    enabled: false
  authority:
    enabled: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Records.Type != "sqlite" || cfg.Records.SQLite["path"] != "/var/lib/dittoshare/records.db" {
		t.Errorf("Unexpected records section: %+v", cfg.Records)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected cache ttl 10m, got %v", cfg.Cache.TTL)
	}
	if cfg.Services.Files.Port != 8080 || cfg.Services.Files.MaxUploadBytes != 1<<20 {
		t.Errorf("Unexpected files section: %+v", cfg.Services.Files)
	}
	if cfg.Services.Files.ReadTimeout != time.Minute {
		t.Errorf("Expected squashed read_timeout 1m, got %v", cfg.Services.Files.ReadTimeout)
	}
	if cfg.Services.Notifier.Enabled {
		t.Error("Expected notifier explicitly disabled")
	}
	// A disabled notifier keeps its default port so the section stays documented.
	if cfg.Services.Notifier.Port != DefaultNotifierPort {
		t.Errorf("Expected notifier port %d, got %d", DefaultNotifierPort, cfg.Services.Notifier.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("DITTOSHARE_SERVICES_AUTHORITY_SECRET", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Records.Type != "memory" {
		t.Errorf("Expected default record store 'memory', got %q", cfg.Records.Type)
	}
	if cfg.Services.Authority.Secret != "from-env" {
		t.Errorf("Expected secret from env, got %q", cfg.Services.Authority.Secret)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Expected an error when the authority has no secret")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging: [unterminated")

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, `
records:
  type: postgres
services:
  authority:
    secret: s
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Expected validation error for unknown record store type")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOSHARE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSHARE_SERVICES_FILES_PORT", "7070")
	t.Setenv("DITTOSHARE_CACHE_TYPE", "none")

	configPath := writeConfig(t, `
logging:
  level: "INFO"
services:
  files:
    port: 5002
  authority:
    secret: "s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Services.Files.Port != 7070 {
		t.Errorf("Expected port 7070 from env var, got %d", cfg.Services.Files.Port)
	}
	if cfg.Cache.Type != "none" {
		t.Errorf("Expected cache type 'none' from env var, got %q", cfg.Cache.Type)
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if dir := GetConfigDir(); dir != filepath.Join(xdg, "dittoshare") {
		t.Errorf("Expected %s, got %s", filepath.Join(xdg, "dittoshare"), dir)
	}
	if path := GetDefaultConfigPath(); path != filepath.Join(xdg, "dittoshare", "config.yaml") {
		t.Errorf("Unexpected default config path %s", path)
	}
	if ConfigExists() {
		t.Error("Expected no config in a fresh directory")
	}
}
