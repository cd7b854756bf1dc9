// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the ingest service.
type Config struct {
	HTTPPort    string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string // optional; empty disables events and uses a local run lock
	Location    *time.Location

	CourtBaseURL       string
	CourtCodes         []string // empty means the built-in court list
	CourtRatePerSecond float64
	CourtWarmupTimeout time.Duration
	CourtPageTimeout   time.Duration

	OnbidBaseURL  string
	OnbidAPIKey   string
	OnbidTimeout  time.Duration
	OnbidRetries  int
	OnbidPageSize int

	CrawlDays        int
	RefreshDaysBack  int
	RefreshDaysAhead int
	DispatchLimit    int
	NotifyMaxAttempt int
	LockTTL          time.Duration

	CrawlSpec       string
	RefreshSpec     string
	DispatchSpec    string
	DailyAlertSpec  string
	WeeklyAlertSpec string
	CrawlSources    []string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPTimeout  time.Duration
	MailFrom     string

	TelegramToken   string
	TelegramAPIBase string

	PriceAPIURL     string
	PriceAPITimeout time.Duration

	LogFile  string
	LogLevel string
}

// Load reads an optional .env file, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	p := &parser{}
	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8083"),
		GRPCPort:    getEnv("GRPC_PORT", "9093"),
		DatabaseURL: dbURL,
		RedisURL:    os.Getenv("REDIS_URL"),

		CourtBaseURL:       getEnv("COURT_BASE_URL", "https://www.courtauction.go.kr"),
		CourtCodes:         splitList(os.Getenv("COURT_CODES")),
		CourtRatePerSecond: p.float("COURT_RATE_PER_SECOND", 2),
		CourtWarmupTimeout: p.duration("COURT_WARMUP_TIMEOUT", 10*time.Second),
		CourtPageTimeout:   p.duration("COURT_PAGE_TIMEOUT", 15*time.Second),

		OnbidBaseURL:  getEnv("ONBID_BASE_URL", "http://openapi.onbid.co.kr/openapi/services/KamcoPblsalThingInquireSvc/getKamcoPbctCltrList"),
		OnbidAPIKey:   os.Getenv("ONBID_API_KEY"),
		OnbidTimeout:  p.duration("ONBID_TIMEOUT", 20*time.Second),
		OnbidRetries:  p.positive("ONBID_RETRIES", 3),
		OnbidPageSize: p.positive("ONBID_PAGE_SIZE", 100),

		CrawlDays:        p.positive("CRAWL_DAYS", 30),
		RefreshDaysBack:  p.positive("REFRESH_DAYS_BACK", 90),
		RefreshDaysAhead: p.positive("REFRESH_DAYS_AHEAD", 30),
		DispatchLimit:    p.positive("DISPATCH_LIMIT", 200),
		NotifyMaxAttempt: p.positive("NOTIFY_MAX_ATTEMPTS", 3),
		LockTTL:          p.duration("LOCK_TTL", 2*time.Hour),

		CrawlSpec:       getEnv("CRON_CRAWL", "@every 6h"),
		RefreshSpec:     getEnv("CRON_REFRESH", "0 4 * * *"),
		DispatchSpec:    getEnv("CRON_DISPATCH", "@every 5m"),
		DailyAlertSpec:  getEnv("CRON_ALERTS_DAILY", "0 8 * * *"),
		WeeklyAlertSpec: getEnv("CRON_ALERTS_WEEKLY", "0 8 * * 1"),
		CrawlSources:    splitList(getEnv("CRAWL_SOURCES", "court,onbid")),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     p.positive("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPTimeout:  p.duration("SMTP_TIMEOUT", 30*time.Second),
		MailFrom:     getEnv("MAIL_FROM", "no-reply@aucradar.kr"),

		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIBase: getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),

		PriceAPIURL:     strings.TrimRight(os.Getenv("PRICE_API_URL"), "/"),
		PriceAPITimeout: p.duration("PRICE_API_TIMEOUT", 10*time.Second),

		LogFile:  os.Getenv("LOG_FILE"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	tz := getEnv("APP_TIMEZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("APP_TIMEZONE: unknown zone %q", tz))
	}
	cfg.Location = loc

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	return cfg, nil
}

// parser collects every malformed variable so one run reports them all.
type parser struct {
	errs []string
}

func (p *parser) positive(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a positive integer, got %q", key, s))
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a positive number, got %q", key, s))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a positive duration, got %q", key, s))
		return def
	}
	return v
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
