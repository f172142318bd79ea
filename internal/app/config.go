package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddr     = ":8080"
	defaultWSPath   = "/ws"
	defaultTokenTTL = 7 * 24 * time.Hour
)

var ErrConfigNotFound = errors.New("config file not found")

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	Path           string        `yaml:"path"`
	DBPath         string        `yaml:"db_path"`
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SecureCookies  bool          `yaml:"secure_cookies"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
}

// LoadConfigFile reads a YAML config. Missing keys keep their zero value;
// call WithDefaults afterwards.
func LoadConfigFile(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ServerConfig{}, ErrConfigNotFound
		}
		return ServerConfig{}, fmt.Errorf("read config: %w", err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// WithDefaults fills unset fields.
func (cfg ServerConfig) WithDefaults() ServerConfig {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	return cfg
}

// Validate rejects configs the server cannot start with.
func (cfg ServerConfig) Validate() error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("database path is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("jwt secret is required")
	}
	for _, proxy := range cfg.TrustedProxies {
		proxy = strings.TrimSpace(proxy)
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("LIVECART_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("LIVECART_DATA_DIR"); env != "" {
		return filepath.Join(env, "livecart.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "livecart", "livecart.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Livecart", "livecart.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Livecart", "livecart.db")
		}
		return filepath.Join(home, ".local", "share", "livecart", "livecart.db")
	}
	return filepath.Join(".", ".livecart", "livecart.db")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeJoinPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultWSPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
