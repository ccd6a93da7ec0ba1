// File path: internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Backend names for the cache store.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config carries the service settings. The cache fields that have meaningful
// zero values (enabled=false, ttl=0) are pointers so an explicit setting can
// be told apart from an absent one.
type Config struct {
	HTTPAddr  string `json:"http_addr"`
	UploadDir string `json:"upload_dir"`
	OutputDir string `json:"output_dir"`

	CacheEnabled *bool  `json:"cache_enabled"`
	CacheTTLDays *int   `json:"cache_ttl_days"`
	CacheBackend string `json:"cache_backend"`
	CacheDBPath  string `json:"cache_db_path"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.HTTPAddr) != "" {
		result.HTTPAddr = strings.TrimSpace(override.HTTPAddr)
	}
	if strings.TrimSpace(override.UploadDir) != "" {
		result.UploadDir = strings.TrimSpace(override.UploadDir)
	}
	if strings.TrimSpace(override.OutputDir) != "" {
		result.OutputDir = strings.TrimSpace(override.OutputDir)
	}
	if override.CacheEnabled != nil {
		result.CacheEnabled = override.CacheEnabled
	}
	if override.CacheTTLDays != nil {
		result.CacheTTLDays = override.CacheTTLDays
	}
	if strings.TrimSpace(override.CacheBackend) != "" {
		result.CacheBackend = strings.TrimSpace(override.CacheBackend)
	}
	if strings.TrimSpace(override.CacheDBPath) != "" {
		result.CacheDBPath = strings.TrimSpace(override.CacheDBPath)
	}
	if strings.TrimSpace(override.RedisAddr) != "" {
		result.RedisAddr = strings.TrimSpace(override.RedisAddr)
	}
	if override.RedisPassword != "" {
		result.RedisPassword = override.RedisPassword
	}
	if override.RedisDB > 0 {
		result.RedisDB = override.RedisDB
	}
	return result
}

// Enabled unwraps the cache switch; the cache is on unless explicitly
// disabled.
func (c Config) Enabled() bool {
	if c.CacheEnabled == nil {
		return true
	}
	return *c.CacheEnabled
}

// TTLDays unwraps the cache TTL. Zero means entries never expire.
func (c Config) TTLDays() int {
	if c.CacheTTLDays == nil {
		return 90
	}
	return *c.CacheTTLDays
}

// LoadConfig builds the effective configuration: optional JSON file named by
// DOCVERIFIER_CONFIG first, environment variables over it, defaults last.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("DOCVERIFIER_CONFIG")); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadConfigEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()

	switch cfg.CacheBackend {
	case BackendSQLite, BackendRedis:
	default:
		return Config{}, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
	if cfg.TTLDays() < 0 {
		return Config{}, fmt.Errorf("cache ttl days must not be negative: %d", cfg.TTLDays())
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":5000"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.OutputDir == "" {
		c.OutputDir = "outputs"
	}
	if c.CacheBackend == "" {
		c.CacheBackend = BackendSQLite
	}
	c.CacheBackend = strings.ToLower(c.CacheBackend)
	if c.CacheDBPath == "" {
		c.CacheDBPath = "cache.db"
	}
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func loadConfigEnv() (Config, error) {
	cfg := Config{}
	if addr := strings.TrimSpace(os.Getenv("HTTP_ADDR")); addr != "" {
		cfg.HTTPAddr = addr
	}
	if dir := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); dir != "" {
		cfg.UploadDir = dir
	}
	if dir := strings.TrimSpace(os.Getenv("OUTPUT_DIR")); dir != "" {
		cfg.OutputDir = dir
	}
	if enabled := strings.TrimSpace(os.Getenv("CACHE_ENABLED")); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("parse CACHE_ENABLED: %w", err)
		}
		cfg.CacheEnabled = &value
	}
	if ttl := strings.TrimSpace(os.Getenv("CACHE_TTL_DAYS")); ttl != "" {
		value, err := strconv.Atoi(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("parse CACHE_TTL_DAYS: %w", err)
		}
		cfg.CacheTTLDays = &value
	}
	if backend := strings.TrimSpace(os.Getenv("CACHE_BACKEND")); backend != "" {
		cfg.CacheBackend = backend
	}
	if path := strings.TrimSpace(os.Getenv("CACHE_DB_PATH")); path != "" {
		cfg.CacheDBPath = path
	}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		cfg.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if db := strings.TrimSpace(os.Getenv("REDIS_DB")); db != "" {
		value, err := strconv.Atoi(db)
		if err != nil {
			return Config{}, fmt.Errorf("parse REDIS_DB: %w", err)
		}
		cfg.RedisDB = value
	}
	return cfg, nil
}
