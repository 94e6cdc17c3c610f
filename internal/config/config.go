// Package config loads the service configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	AppName string `yaml:"app_name"`
	Commit  string `yaml:"commit"`
	Listen  string `yaml:"listen"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	S3 struct {
		Bucket           string `yaml:"bucket"`
		RestrictedBucket string `yaml:"restricted_bucket"`
		Region           string `yaml:"region"`
		URLExpirySeconds int    `yaml:"url_expiry_seconds"`
	} `yaml:"s3"`

	AccountAPI struct {
		URL               string `yaml:"url"`
		Version           string `yaml:"version"`
		UpdateGroupsRetry int    `yaml:"update_groups_retry"`
	} `yaml:"account_api"`

	VerificationAPI struct {
		URL     string `yaml:"url"`
		Version string `yaml:"version"`
	} `yaml:"verification_api"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the bounded timeout applied to every external call.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// URLExpiry returns the lifetime of presigned download links.
func (c *Config) URLExpiry() time.Duration {
	return time.Duration(c.S3.URLExpirySeconds) * time.Second
}

// ResolvePath returns the configuration file path, preferring the explicit
// argument, then CONFIG_PATH, then the conventional default.
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv("CONFIG_PATH")); env != "" {
		return env
	}
	return "config.yaml"
}

// Load reads the YAML file at path, applies environment overrides and
// validates required values.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Listen = ":8080"
	cfg.Log.Level = "info"
	cfg.AccountAPI.UpdateGroupsRetry = 3
	cfg.S3.URLExpirySeconds = 300
	cfg.TimeoutSeconds = 10

	data, errRead := os.ReadFile(path)
	if errRead != nil && !os.IsNotExist(errRead) {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errRead == nil {
		if errParse := yaml.Unmarshal(data, cfg); errParse != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errParse)
		}
	}

	applyEnv(cfg)

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database dsn is required")
	}
	if cfg.AccountAPI.UpdateGroupsRetry < 1 {
		return nil, fmt.Errorf("config: update_groups_retry must be at least 1")
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) {
	overrideString(&cfg.AppName, "APP_NAME")
	overrideString(&cfg.Commit, "COMMIT")
	overrideString(&cfg.Listen, "LISTEN")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Log.File, "LOG_FILE")
	overrideString(&cfg.Database.DSN, "DATABASE_DSN")
	overrideString(&cfg.S3.Bucket, "S3_BUCKET")
	overrideString(&cfg.S3.RestrictedBucket, "S3_BUCKET_RESTRICTED")
	overrideString(&cfg.S3.Region, "S3_BUCKET_REGION")
	overrideInt(&cfg.S3.URLExpirySeconds, "S3_URL_EXPIRATION")
	overrideString(&cfg.AccountAPI.URL, "ACCOUNT_API_URL")
	overrideString(&cfg.AccountAPI.Version, "ACCOUNT_API_VERSION")
	overrideInt(&cfg.AccountAPI.UpdateGroupsRetry, "UPDATE_GROUPS_RETRY")
	overrideString(&cfg.VerificationAPI.URL, "VERIFICATION_API_URL")
	overrideString(&cfg.VerificationAPI.Version, "VERIFICATION_API_VERSION")
	overrideInt(&cfg.TimeoutSeconds, "DEFAULT_TIMEOUT")
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, errParse := strconv.Atoi(strings.TrimSpace(value)); errParse == nil {
			*target = parsed
		}
	}
}
