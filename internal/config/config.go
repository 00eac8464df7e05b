package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DatabaseDriver string // sqlite or postgres
	DatabaseDSN    string

	// RedisAddr enables the distributed rate limiter and cross-instance
	// realtime fan-out when set; empty keeps both in-process.
	RedisAddr     string
	RedisPassword string

	StaffTokenSecret  string
	LaunchTokenSecret string
	StaffTokenTTL     time.Duration
	AdminUsername     string
	AdminPassword     string

	// QRRotateSeconds is fixed per session at open time.
	QRRotateSeconds int
	// SessionMaxDuration bounds a forgotten session's lifetime.
	SessionMaxDuration time.Duration
	SweepInterval      time.Duration
	// SessionOpenPolicy is "displace" (close the tablet's previous session)
	// or "reject" (refuse to open while one is active).
	SessionOpenPolicy string

	PINLookupRateLimitRPM int
	AttendRateLimitRPM    int
	APIRateLimitRPM       int

	CORSOrigins []string

	SSEHeartbeat       time.Duration
	TabletOfflineGrace time.Duration

	ShutdownTimeout time.Duration

	OTELEnabled     bool
	OTELEndpoint    string
	OTELInsecure    bool
	OTELServiceName string
	OTELEnvironment string
	LogLevel        slog.Level
}

// Load reads configuration from the environment, applying an optional .env
// file first. Missing values fall back to development defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseDriver:        getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:           getEnv("DATABASE_DSN", "file:traffic.db"),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		StaffTokenSecret:      getEnv("STAFF_TOKEN_SECRET", "change-me-staff-secret"),
		LaunchTokenSecret:     getEnv("LAUNCH_TOKEN_SECRET", "change-me-launch-secret"),
		StaffTokenTTL:         getDuration("STAFF_TOKEN_TTL", 8*time.Hour),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", ""),
		QRRotateSeconds:       getInt("QR_ROTATE_SECONDS", 5),
		SessionMaxDuration:    getDuration("SESSION_MAX_DURATION", 90*time.Minute),
		SweepInterval:         getDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		SessionOpenPolicy:     getEnv("SESSION_OPEN_POLICY", "displace"),
		PINLookupRateLimitRPM: getInt("PIN_LOOKUP_RATE_LIMIT_RPM", 25),
		AttendRateLimitRPM:    getInt("ATTEND_RATE_LIMIT_RPM", 120),
		APIRateLimitRPM:       getInt("API_RATE_LIMIT_RPM", 600),
		CORSOrigins:           getList("CORS_ORIGINS", []string{"*"}),
		SSEHeartbeat:          getDuration("SSE_HEARTBEAT", 8*time.Second),
		TabletOfflineGrace:    getDuration("TABLET_OFFLINE_GRACE", 20*time.Second),
		ShutdownTimeout:       getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OTELEnabled:           getBool("OTEL_ENABLED", false),
		OTELEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELInsecure:          getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:       getEnv("OTEL_SERVICE_NAME", "traffic-attendance-service"),
		OTELEnvironment:       getEnv("OTEL_ENVIRONMENT", "dev"),
		LogLevel:              parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.OTELEnvironment, "invalid", classifyConfigError(err))
		return nil, fmt.Errorf("validate config: %w", err)
	}
	recordConfigValidationEvent(context.Background(), cfg.OTELEnvironment, "valid", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.QRRotateSeconds < 1 || c.QRRotateSeconds > 60 {
		return fmt.Errorf("QR_ROTATE_SECONDS must be in [1,60], got %d", c.QRRotateSeconds)
	}
	if c.SessionMaxDuration < time.Minute {
		return fmt.Errorf("SESSION_MAX_DURATION must be at least 1m, got %s", c.SessionMaxDuration)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	switch c.SessionOpenPolicy {
	case "displace", "reject":
	default:
		return fmt.Errorf("SESSION_OPEN_POLICY must be displace or reject, got %q", c.SessionOpenPolicy)
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.StaffTokenSecret == "" || c.LaunchTokenSecret == "" {
		return fmt.Errorf("token secrets must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
