package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir      string // logs directory
	LogLevel    string // debug, info, warn, error
	LogConsole  bool   // also log to stderr
	Environment string // reported by /health
	DatabaseURL string // postgres DSN; empty means SQLite
	SQLitePath  string // SQLite file used when DatabaseURL is empty
	SeedFile    string // optional YAML list of services loaded into an empty store

	CheckInterval time.Duration // pause between the end of one cycle and the next
	HTTPTimeout   time.Duration
	PingTimeout   time.Duration
	TCPTimeout    time.Duration

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	AllowedOrigins []string

	SlackWebhookURL string
	AlertOnRecovery bool
	AlertCooldown   time.Duration
}

func FromEnv() Config {
	// Bind address (Windows-friendly default)
	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "opsmonitor.db"
	}

	origins := splitList(os.Getenv("ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return Config{
		Addr:        addr,
		LogDir:      envString("LOG_DIR", "logs"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		LogConsole:  envBool("LOG_CONSOLE", false),
		Environment: envString("ENVIRONMENT", "development"),
		// Database (empty means use SQLite)
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  sqlitePath,
		SeedFile:    os.Getenv("SEED_FILE"),

		CheckInterval: envMillis("CHECK_INTERVAL_MS", 60*time.Second),
		HTTPTimeout:   envMillis("HTTP_TIMEOUT_MS", 5*time.Second),
		PingTimeout:   envMillis("PING_TIMEOUT_MS", 2*time.Second),
		TCPTimeout:    envMillis("TCP_TIMEOUT_MS", 2*time.Second),

		PublicAPIKeys:  splitList(os.Getenv("PUBLIC_API_KEYS")),
		AdminAPIKeys:   splitList(os.Getenv("ADMIN_API_KEYS")),
		PublicRPM:      envInt("PUBLIC_RPM", 60),
		PublicBurst:    envInt("PUBLIC_BURST", 20),
		AdminRPM:       envInt("ADMIN_RPM", 120),
		AdminBurst:     envInt("ADMIN_BURST", 40),
		AllowedOrigins: origins,

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		AlertOnRecovery: envBool("ALERT_ON_RECOVERY", true),
		AlertCooldown:   envMillis("ALERT_COOLDOWN_MS", 5*time.Minute),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt ignores values that are not positive integers.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// envMillis reads a positive millisecond count.
func envMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// splitList parses "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
