// Package config loads service configuration from a YAML file with
// environment-variable overrides for deploy-time settings and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Role names one LLM role's model settings. API keys are never read from
// the file, only from the environment.
type Role struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	RPS         float64 `yaml:"rps"`
}

// Config is the top-level service configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBPath        string `yaml:"db_path"`
	UploadDir     string `yaml:"upload_dir"`
	OutputDir     string `yaml:"output_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`

	Divider   Role `yaml:"divider"`
	Generator Role `yaml:"generator"`
	Reviewer  Role `yaml:"reviewer"`

	MaxAttempts          int           `yaml:"max_attempts"`
	MaxPartsInFlight     int           `yaml:"max_parts_in_flight"`
	MaxDocumentsInFlight int           `yaml:"max_documents_in_flight"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	ErrorRetryDelay      time.Duration `yaml:"error_retry_delay"`
	CallTimeout          time.Duration `yaml:"call_timeout"`

	// Resolved at load time, never from the file.
	APIKey string `yaml:"-"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "data/lexmap.db"
	}
	if c.UploadDir == "" {
		c.UploadDir = "data/uploads"
	}
	if c.OutputDir == "" {
		c.OutputDir = "data/mindmaps"
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = "data/checkpoints"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxPartsInFlight <= 0 {
		c.MaxPartsInFlight = 3
	}
	if c.MaxDocumentsInFlight <= 0 {
		c.MaxDocumentsInFlight = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ErrorRetryDelay <= 0 {
		c.ErrorRetryDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Minute
	}
	roleDefaults(&c.Divider)
	roleDefaults(&c.Generator)
	roleDefaults(&c.Reviewer)
}

func roleDefaults(r *Role) {
	if r.Model == "" {
		r.Model = "gpt-4o-mini"
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 12000
	}
}

// Load reads path (if it exists), applies env overrides, and fills defaults.
// A missing file is not an error; the env and defaults carry the config.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.ListenAddr = env("LEXMAP_ADDR", cfg.ListenAddr)
	cfg.DBPath = env("LEXMAP_DB", cfg.DBPath)
	cfg.UploadDir = env("LEXMAP_UPLOAD_DIR", cfg.UploadDir)
	cfg.OutputDir = env("LEXMAP_OUTPUT_DIR", cfg.OutputDir)
	cfg.CheckpointDir = env("LEXMAP_CHECKPOINT_DIR", cfg.CheckpointDir)
	cfg.APIKey = env("OPENAI_API_KEY", env("LEXMAP_API_KEY", ""))

	for _, r := range []*Role{&cfg.Divider, &cfg.Generator, &cfg.Reviewer} {
		r.BaseURL = env("LEXMAP_LLM_BASE_URL", r.BaseURL)
		r.Model = env("LEXMAP_LLM_MODEL", r.Model)
	}
	cfg.MaxAttempts = envInt("LEXMAP_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.MaxPartsInFlight = envInt("LEXMAP_MAX_PARTS", cfg.MaxPartsInFlight)
	cfg.MaxDocumentsInFlight = envInt("LEXMAP_MAX_DOCS", cfg.MaxDocumentsInFlight)

	cfg.defaults()
	return &cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
