package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"lab_visit_tracker/db"
	"lab_visit_tracker/services"

	"github.com/joho/godotenv"
)

// Config is read from the environment, optionally seeded from .env.
type Config struct {
	Port        string
	Environment string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	RedisAddr string
	RedisPwd  string

	WebOrigin     string
	RPID          string
	RPOrigins     []string
	SessionTTL    time.Duration // WebAuthn ceremony sessions
	AppSessionTTL time.Duration // signed-in admin sessions

	AdminEmails    []string
	BootstrapEmail string

	TapOutPolicy  services.TapOutPolicy
	OpTimeout     time.Duration
	StatsCacheTTL time.Duration
	Location      *time.Location

	KafkaBrokers     []string
	KafkaTopicVisits string
	KafkaClientID    string

	// Invite mail; with no SMTPHost the link is only logged.
	AppName      string
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// LoadEnv loads .env when present. Real environment variables win.
func LoadEnv() {
	_ = godotenv.Load()
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (Config, error) {
	get := func(k, def string) string {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			return def
		}
		return v
	}
	seconds := func(k string, def int) (time.Duration, error) {
		raw := get(k, strconv.Itoa(def))
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s: want a non-negative number of seconds, got %q", k, raw)
		}
		return time.Duration(n) * time.Second, nil
	}

	cfg := Config{
		Port:        get("PORT", "3001"),
		Environment: get("ENVIRONMENT", "development"),

		DBDriver:   strings.ToLower(get("DB_DRIVER", db.DriverPostgres)),
		DBHost:     get("DB_HOST", "127.0.0.1"),
		DBPort:     get("DB_PORT", "5432"),
		DBUser:     get("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     get("DB_NAME", "lab_visits"),
		DBSSLMode:  get("DB_SSLMODE", "disable"),
		SQLitePath: get("SQLITE_PATH", "lab_visits.db"),

		RedisAddr: get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:  os.Getenv("REDIS_PASSWORD"),

		WebOrigin:     get("WEB_ORIGIN", "http://localhost:5173"),
		RPID:          get("RP_ID", "localhost"),
		RPOrigins:     splitList(get("RP_ORIGINS", "http://localhost:5173"), false),
		AppSessionTTL: 24 * time.Hour,

		AdminEmails:    splitList(os.Getenv("ADMIN_EMAILS"), true),
		BootstrapEmail: strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL"))),

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS"), false),
		KafkaTopicVisits: get("KAFKA_TOPIC_VISITS", "lab.visits"),
		KafkaClientID:    get("KAFKA_CLIENT_ID", "lab-visit-tracker"),

		AppName:      get("APP_NAME", "Lab Visit Tracker"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     get("SMTP_PORT", "587"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
	}

	var err error
	if cfg.SessionTTL, err = seconds("SESSION_TTL_SECONDS", 600); err != nil {
		return Config{}, err
	}
	if cfg.OpTimeout, err = seconds("OP_TIMEOUT_SECONDS", 5); err != nil {
		return Config{}, err
	}
	if cfg.StatsCacheTTL, err = seconds("STATS_CACHE_TTL_SECONDS", 300); err != nil {
		return Config{}, err
	}
	if cfg.TapOutPolicy, err = services.ParseTapOutPolicy(os.Getenv("TAPOUT_POLICY")); err != nil {
		return Config{}, fmt.Errorf("TAPOUT_POLICY: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(get("APP_TIMEZONE", "UTC")); err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	switch cfg.DBDriver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return Config{}, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}
	return cfg, nil
}

// DSN is the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == db.DriverSQLite {
		return c.SQLitePath
	}
	return db.PostgresDSN(c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func (c Config) IsProduction() bool { return c.Environment == "production" }

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

func splitList(csv string, lower bool) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if t := strings.TrimSpace(s); t != "" {
			if lower {
				t = strings.ToLower(t)
			}
			out = append(out, t)
		}
	}
	return out
}
