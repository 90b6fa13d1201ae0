// Package config provides configuration management for the Antigravity auth
// pool. It handles loading and parsing YAML configuration files with .env and
// environment-variable overlays, and provides structured access to the
// endpoint list, storage backend selection, auth directory, and debug
// settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Storage backend selectors for the account-pool document.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMinio    = "minio"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Endpoints overrides the default endpoint fallback order when non-empty.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// AuthDir is the directory holding the persisted account-pool document.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// Debug enables the request/response debug log sink.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches structured logs from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the log directory; <= 0 disables cleanup.
	LogsMaxTotalSizeMB int64 `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// CallbackPort fixes the OAuth loopback listener port; 0 selects the provider default.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// Port is the listen port of the local dispatch proxy server.
	Port int `yaml:"port" json:"port"`

	// StorageBackend selects where the pool document lives: file, postgres, or minio.
	StorageBackend string `yaml:"storage-backend" json:"storage-backend"`

	// PostgresDSN is the connection string used when StorageBackend is postgres.
	PostgresDSN string `yaml:"postgres-dsn" json:"postgres-dsn"`

	// Minio holds object-storage settings used when StorageBackend is minio.
	Minio MinioConfig `yaml:"minio" json:"minio"`
}

// MinioConfig holds object-storage connection settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Object    string `yaml:"object" json:"object"`
}

// DefaultAuthDir returns the platform config-dir location of the auth
// directory, falling back to the working directory when the user config dir
// cannot be resolved.
func DefaultAuthDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "antigravity-auth"
	}
	return filepath.Join(base, "antigravity-auth")
}

// AccountsFilePath returns the path of the persisted pool document.
func (c *Config) AccountsFilePath() string {
	dir := c.AuthDir
	if dir == "" {
		dir = DefaultAuthDir()
	}
	return filepath.Join(dir, "antigravity-accounts.json")
}

// Load reads the YAML file at path, overlays a .env file from the working
// directory if one exists, then applies environment-variable overrides. A
// missing config file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("config: no .env overlay: %v", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENCODE_ANTIGRAVITY_DEBUG"); isTruthy(v) {
		c.Debug = true
	}
	if v := os.Getenv("ANTIGRAVITY_AUTH_DIR"); v != "" {
		c.AuthDir = v
	}
	if v := os.Getenv("ANTIGRAVITY_PROXY_URL"); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("ANTIGRAVITY_STORAGE_BACKEND"); v != "" {
		c.StorageBackend = v
	}
	if v := os.Getenv("ANTIGRAVITY_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("ANTIGRAVITY_CALLBACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.CallbackPort = port
		}
	}
	if v := os.Getenv("ANTIGRAVITY_ENDPOINTS"); v != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		if len(endpoints) > 0 {
			c.Endpoints = endpoints
		}
	}
}

func (c *Config) applyDefaults() {
	if c.AuthDir == "" {
		c.AuthDir = DefaultAuthDir()
	}
	if c.StorageBackend == "" {
		c.StorageBackend = StorageFile
	}
	if c.Port == 0 {
		c.Port = 8317
	}
}

// isTruthy treats any non-empty value except explicit negatives as true, so
// OPENCODE_ANTIGRAVITY_DEBUG=1, =true, or =yes all enable the sink.
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
