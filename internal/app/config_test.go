package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livecart.yaml")
	content := `addr: ":9000"
path: live
db_path: /tmp/livecart-test.db
jwt_secret: s3cret
token_ttl: 2h
log_format: json
allowed_origins:
  - https://shop.example.com
secure_cookies: true
trusted_proxies:
  - 10.0.0.0/8
  - 192.0.2.10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	cfg = cfg.WithDefaults()
	if cfg.Addr != ":9000" || cfg.Path != "/live" || cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" || !cfg.SecureCookies || len(cfg.AllowedOrigins) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.0.2.10" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := ServerConfig{DBPath: "x.db"}.WithDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing secret should fail")
	}
	cfg.JWTSecret = "s"
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown log format should fail")
	}
	cfg.LogFormat = "json"
	cfg.TrustedProxies = []string{"10.0.0.0/33"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("invalid trusted proxy should fail")
	}
}

func TestDefaultDBPathFromEnv(t *testing.T) {
	t.Setenv("LIVECART_DB_PATH", "/data/custom.db")
	if got := DefaultDBPath(); got != "/data/custom.db" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("LIVECART_DB_PATH", "")
	t.Setenv("LIVECART_DATA_DIR", "/srv/livecart")
	if got := DefaultDBPath(); got != filepath.Join("/srv/livecart", "livecart.db") {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeJoinPath(t *testing.T) {
	cases := map[string]string{"": "/ws", "live": "/live", "/socket": "/socket", "  ": "/ws"}
	for in, want := range cases {
		if got := NormalizeJoinPath(in); got != want {
			t.Fatalf("NormalizeJoinPath(%q) = %q, want %q", in, got, want)
		}
	}
}
