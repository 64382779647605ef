package app

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("CRPG_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CRPG_LOG_FORMAT", "PRETTY")
	t.Setenv("CRPG_CORS_ALLOWED_ORIGINS", " https://a.example.com , ,http://127.0.0.1:*")
	t.Setenv("CRPG_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("CRPG_WS_RATE_EVENTS", "7")
	t.Setenv("CRPG_TYPING_TIMEOUT", "3s")
	t.Setenv("CRPG_CHAT_PAGE_SIZE", "20")
	t.Setenv("CRPG_DB_MAX_CONNS", "not-a-number")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "pretty" {
		t.Fatalf("LogFormat=%q want pretty", cfg.LogFormat)
	}
	if want := []string{"https://a.example.com", "http://127.0.0.1:*"}; !slices.Equal(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins=%v want %v", cfg.CORSAllowedOrigins, want)
	}
	if cfg.Gateway.OriginRequired {
		t.Fatalf("expected origin check disabled")
	}
	if cfg.Gateway.RateEvents != 7 || cfg.Gateway.TypingTimeout != 3*time.Second {
		t.Fatalf("gateway cfg=%+v", cfg.Gateway)
	}
	if cfg.Chat.DefaultPageSize != 20 {
		t.Fatalf("DefaultPageSize=%d", cfg.Chat.DefaultPageSize)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.DBMaxConns)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "db conns", mutate: func(c *Config) { c.DBMaxConns, c.DBMinConns = 2, 5 }},
		{name: "mongo database", mutate: func(c *Config) { c.MongoURI, c.MongoDatabase = "mongodb://x", " " }},
		{name: "page size", mutate: func(c *Config) { c.Chat.DefaultPageSize, c.Chat.MaxPageSize = 50, 10 }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := LoadConfig()
			cfg.LogFormat = "json"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CRPG_DOTENV_NEW=from-file\nCRPG_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CRPG_DOTENV_SET", "from-env")
	t.Setenv("CRPG_DOTENV_NEW", "")
	_ = os.Unsetenv("CRPG_DOTENV_NEW")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CRPG_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("CRPG_DOTENV_NEW=%q", got)
	}
	if got := os.Getenv("CRPG_DOTENV_SET"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}
}
