package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is built once at startup and handed to every component constructor.
// Nothing reads the environment after Load returns.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreBackend string
	DBSource     string
	Redis        RedisConfig

	Upstream UpstreamConfig
	SMTP     SMTPConfig
	Notify   NotifyConfig

	AllowedOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// UpstreamConfig holds the insurer API settings already resolved for the
// active environment.
type UpstreamConfig struct {
	Production   bool
	BaseURL      string
	APIKey       string
	APISecret    string
	QuotePath    string
	TransferPath string
	Source       string
	Timeout      time.Duration

	// ForwardAgentInfo controls whether agent email/branch are sent with
	// transfer requests. Some deployments must strip them.
	ForwardAgentInfo bool
}

func (u UpstreamConfig) QuoteURL() string    { return u.BaseURL + u.QuotePath }
func (u UpstreamConfig) TransferURL() string { return u.BaseURL + u.TransferPath }

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

type NotifyConfig struct {
	To              []string
	CC              []string
	BCC             []string
	QuoteEnabled    bool
	TransferEnabled bool
	Workers         int
	QueueSize       int
}

// IsProduction reports whether the service talks to the production insurer.
func (c *Config) IsProduction() bool {
	return c.Upstream.Production
}

// Load reads a .env file when one exists, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	env := strings.ToLower(getEnv("ENVIRONMENT", "test"))
	production := env == "production"

	backend := strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres))
	dbSource := os.Getenv("DB_SOURCE")
	switch backend {
	case BackendPostgres:
		if dbSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}

	upstream := UpstreamConfig{
		Production:       production,
		QuotePath:        getEnv("UPSTREAM_QUOTE_PATH", "/api/v1/quote/quick-quote"),
		TransferPath:     getEnv("UPSTREAM_TRANSFER_PATH", "/users/motor_lead"),
		Source:           getEnv("UPSTREAM_SOURCE", "SureStrat"),
		Timeout:          getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		ForwardAgentInfo: getEnvBool("UPSTREAM_FORWARD_AGENT_INFO", false),
	}
	if production {
		upstream.BaseURL = getEnv("UPSTREAM_PROD_BASE_URL", "http://gw.pineapple.co.za")
		upstream.APIKey = os.Getenv("UPSTREAM_PROD_API_KEY")
		upstream.APISecret = os.Getenv("UPSTREAM_PROD_API_SECRET")
	} else {
		upstream.BaseURL = getEnv("UPSTREAM_TEST_BASE_URL", "http://gw-test.pineapple.co.za")
		upstream.APIKey = os.Getenv("UPSTREAM_TEST_API_KEY")
		upstream.APISecret = os.Getenv("UPSTREAM_TEST_API_SECRET")
	}
	upstream.BaseURL = strings.TrimRight(upstream.BaseURL, "/")

	smtpUser := os.Getenv("SMTP_USERNAME")
	smtp := SMTPConfig{
		Host:     os.Getenv("SMTP_SERVER"),
		Port:     getEnvInt("SMTP_PORT", 465),
		Username: smtpUser,
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getEnv("EMAIL_FROM", smtpUser),
		FromName: getEnv("EMAIL_FROM_NAME", "Surestrat - Pineapple system"),
		Timeout:  time.Duration(getEnvInt("SMTP_TIMEOUT", 30)) * time.Second,
	}

	admins := os.Getenv("ADMIN_EMAILS")
	if admins == "" {
		admins = os.Getenv("NOTIFICATION_EMAILS")
	}
	notify := NotifyConfig{
		To:              SplitList(admins),
		CC:              SplitList(os.Getenv("ADMIN_CC_EMAILS")),
		BCC:             SplitList(os.Getenv("ADMIN_BCC_EMAILS")),
		QuoteEnabled:    getEnvBool("SEND_QUOTE_NOTIFICATIONS", true),
		TransferEnabled: getEnvBool("SEND_TRANSFER_NOTIFICATIONS", true),
		Workers:         getEnvInt("NOTIFY_WORKERS", 2),
		QueueSize:       getEnvInt("NOTIFY_QUEUE_SIZE", 100),
	}

	return &Config{
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          env,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StoreBackend: backend,
		DBSource:     dbSource,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Upstream:       upstream,
		SMTP:           smtp,
		Notify:         notify,
		AllowedOrigins: SplitList(os.Getenv("ALLOWED_ORIGINS")),
	}, nil
}

// SplitList turns "a, b,,c" into [a b c].
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}
