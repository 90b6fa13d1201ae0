package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StorageBackend != StorageFile {
		t.Fatalf("StorageBackend = %q, want %q", cfg.StorageBackend, StorageFile)
	}
	if cfg.AuthDir == "" || cfg.Port == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("auth-dir: /tmp/from-yaml\nstorage-backend: postgres\npostgres-dsn: postgres://yaml\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("ANTIGRAVITY_AUTH_DIR", "/tmp/from-env")
	t.Setenv("ANTIGRAVITY_ENDPOINTS", "https://a.example, https://b.example")
	t.Setenv("OPENCODE_ANTIGRAVITY_DEBUG", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AuthDir != "/tmp/from-env" {
		t.Fatalf("AuthDir = %q, want env override", cfg.AuthDir)
	}
	if cfg.StorageBackend != StoragePostgres || cfg.PostgresDSN != "postgres://yaml" {
		t.Fatalf("yaml values lost: %+v", cfg)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[0] != "https://a.example" {
		t.Fatalf("Endpoints = %v", cfg.Endpoints)
	}
	if !cfg.Debug {
		t.Fatal("Debug = false, want true from OPENCODE_ANTIGRAVITY_DEBUG")
	}
}

func TestIsTruthy(t *testing.T) {
	t.Parallel()

	truthy := []string{"1", "true", "yes", "on", "anything"}
	falsy := []string{"", "0", "false", "no", "off", " "}
	for _, v := range truthy {
		if !isTruthy(v) {
			t.Fatalf("isTruthy(%q) = false", v)
		}
	}
	for _, v := range falsy {
		if isTruthy(v) {
			t.Fatalf("isTruthy(%q) = true", v)
		}
	}
}
