package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/realtime"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout of zero leaves responses unbounded; hijacked WebSocket
	// connections would otherwise inherit the deadline.
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int

	// PostgreSQL backend (used when MongoURI is empty).
	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// MongoDB backend (preferred when set).
	MongoURI      string
	MongoDatabase string

	// If true:
	// - /readyz returns 503 unless a persistent backend is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// DevUsers seeds the in-memory user directory: "uid:Name,uid2:Other".
	DevUsers string

	Chat    chat.Config
	Gateway realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CRPG_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CRPG_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("CRPG_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("CRPG_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CRPG_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CRPG_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("CRPG_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CRPG_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   EnvInt("CRPG_HTTP_MAX_BODY_BYTES", 64<<10),

		DatabaseURL:   EnvString("CRPG_DATABASE_URL", ""),
		DBSchema:      EnvString("CRPG_DB_SCHEMA", "public"),
		DBMaxConns:    EnvInt32("CRPG_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("CRPG_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("CRPG_DB_AUTO_MIGRATE", true),

		MongoURI:      EnvString("CRPG_MONGO_URI", ""),
		MongoDatabase: EnvString("CRPG_MONGO_DATABASE", "crpg"),

		ReadinessRequireDB: EnvBool("CRPG_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("CRPG_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CRPG_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CRPG_CORS_MAX_AGE_SECONDS", 600),

		DevUsers: EnvString("CRPG_DEV_USERS", ""),

		Chat:    loadChatConfig(),
		Gateway: loadGatewayConfig(),
	}
}

func loadChatConfig() chat.Config {
	def := chat.DefaultConfig()
	return chat.Config{
		EditWindow:      EnvDuration("CRPG_CHAT_EDIT_WINDOW", def.EditWindow),
		ReadWindow:      EnvInt("CRPG_CHAT_READ_WINDOW", def.ReadWindow),
		DefaultPageSize: EnvInt("CRPG_CHAT_PAGE_SIZE", def.DefaultPageSize),
		MaxPageSize:     EnvInt("CRPG_CHAT_MAX_PAGE_SIZE", def.MaxPageSize),
		MaxContentChars: EnvInt("CRPG_CHAT_MAX_CONTENT", def.MaxContentChars),
	}
}

func loadGatewayConfig() realtime.GatewayConfig {
	def := realtime.DefaultGatewayConfig()
	return realtime.GatewayConfig{
		OriginRequired:     EnvBool("CRPG_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins:     EnvList("CRPG_WS_ALLOWED_ORIGINS", def.AllowedOrigins),
		InsecureSkipVerify: EnvBool("CRPG_WS_DEV_INSECURE", false),

		WriteTimeout:    EnvDuration("CRPG_WS_WRITE_TIMEOUT", def.WriteTimeout),
		ReadIdleTimeout: EnvDuration("CRPG_WS_READ_IDLE_TIMEOUT", def.ReadIdleTimeout),
		AuthTimeout:     EnvDuration("CRPG_WS_AUTH_TIMEOUT", def.AuthTimeout),
		SendQueueSize:   EnvInt("CRPG_WS_SEND_QUEUE", def.SendQueueSize),

		HeartbeatInterval: EnvDuration("CRPG_WS_HEARTBEAT_INTERVAL", def.HeartbeatInterval),
		HeartbeatTimeout:  EnvDuration("CRPG_WS_HEARTBEAT_TIMEOUT", def.HeartbeatTimeout),

		RateEvents: EnvInt("CRPG_WS_RATE_EVENTS", def.RateEvents),
		RateWindow: EnvDuration("CRPG_WS_RATE_WINDOW", def.RateWindow),

		TypingTimeout: EnvDuration("CRPG_TYPING_TIMEOUT", def.TypingTimeout),
		SweepInterval: EnvDuration("CRPG_TYPING_SWEEP_INTERVAL", def.SweepInterval),
	}
}

// Validate rejects combinations that would fail later in less obvious ways.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: CRPG_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return errors.New("config: CRPG_DB_MIN_CONNS exceeds CRPG_DB_MAX_CONNS")
	}
	if c.MongoURI != "" && strings.TrimSpace(c.MongoDatabase) == "" {
		return errors.New("config: CRPG_MONGO_DATABASE is required with CRPG_MONGO_URI")
	}
	if c.Chat.DefaultPageSize > c.Chat.MaxPageSize {
		return errors.New("config: CRPG_CHAT_PAGE_SIZE exceeds CRPG_CHAT_MAX_PAGE_SIZE")
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
