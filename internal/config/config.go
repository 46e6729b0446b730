package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	defaultDatabaseURL    = "sqlite://multi_llm.db"
	defaultSessionTTL     = "24h"
	defaultUploadDir      = "uploads"
	defaultStaticDir      = "static"
	defaultMaxUploadBytes = 16 * 1024 * 1024
	defaultLoginPerMinute = 10
	defaultJanitorEvery   = "1m"
	minSessionSecretBytes = 32
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	DatabaseURL             string `yaml:"databaseURL"`
	RedisAddr               string `yaml:"redisAddr"`
	RedisPassword           string `yaml:"redisPassword"`
	SessionSecret           string `yaml:"sessionSecret"`
	SessionTTL              string `yaml:"sessionTTL"`
	TokenIssuer             string `yaml:"tokenIssuer"`
	TokenLeeway             string `yaml:"tokenLeeway"`
	LogLevel                string `yaml:"logLevel"`
	LogFormat               string `yaml:"logFormat"`
	UploadDir               string `yaml:"uploadDir"`
	StaticDir               string `yaml:"staticDir"`
	MaxUploadBytes          int64  `yaml:"maxUploadBytes"`
	CatalogPath             string `yaml:"catalogPath"`
	LoginRateLimitPerMinute int    `yaml:"loginRateLimitPerMinute"`
	UsageStream             string `yaml:"usageStream"`
	JanitorInterval         string `yaml:"janitorInterval"`
}

// LoadEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// WriteEnv writes values to path unless the file already exists.
// It reports whether a file was written.
func WriteEnv(path string, values map[string]string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	if err := godotenv.Write(values, path); err != nil {
		return false, fmt.Errorf("write env: %w", err)
	}
	return true, nil
}

// Load reads config from path (defaults to config.yaml), applies defaults
// and environment overrides, and validates the result. A missing file at
// the default location is allowed.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	} else if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.DatabaseURL = "sqlite://" + v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	} else if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		cfg.TokenIssuer = v
	}
	if v := os.Getenv("TOKEN_LEEWAY"); v != "" {
		cfg.TokenLeeway = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("UPLOAD_FOLDER"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("STATIC_FOLDER"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("USAGE_STREAM"); v != "" {
		cfg.UsageStream = v
	}
	if v := os.Getenv("JANITOR_INTERVAL"); v != "" {
		cfg.JanitorInterval = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = defaultStaticDir
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = defaultLoginPerMinute
	}
	if cfg.JanitorInterval == "" {
		cfg.JanitorInterval = defaultJanitorEvery
	}
}

func validateConfig(cfg FileConfig) error {
	if len(cfg.SessionSecret) < minSessionSecretBytes {
		return fmt.Errorf("config: sessionSecret must be at least %d bytes (set SESSION_SECRET)", minSessionSecretBytes)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be positive")
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseTokenLeeway(cfg.TokenLeeway); err != nil {
		return err
	}
	if _, err := ParseJanitorInterval(cfg.JanitorInterval); err != nil {
		return err
	}
	return nil
}

// ParseSessionTTL parses the session lifetime. Empty means 24h.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		ttlStr = defaultSessionTTL
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("invalid sessionTTL duration: must be positive")
	}
	return dur, nil
}

// ParseTokenLeeway parses optional token clock-skew leeway.
func ParseTokenLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenLeeway duration: %w", err)
	}
	return dur, nil
}

// ParseJanitorInterval parses the janitor tick. Empty means one minute.
func ParseJanitorInterval(s string) (time.Duration, error) {
	if s == "" {
		s = defaultJanitorEvery
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid janitorInterval duration: %w", err)
	}
	if dur < time.Second {
		return 0, errors.New("invalid janitorInterval duration: must be at least 1s")
	}
	return dur, nil
}
