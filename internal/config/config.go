package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Occupancy policies for the public slot grid.
const (
	OccupancyClinic = "clinic"
	OccupancyUnit   = "unit"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ClinicTimezone      string        `mapstructure:"CLINIC_TIMEZONE"`
	ClinicOpenHour      int           `mapstructure:"CLINIC_OPEN_HOUR"`
	ClinicCloseHour     int           `mapstructure:"CLINIC_CLOSE_HOUR"`
	SlotIntervalMinutes int           `mapstructure:"SLOT_INTERVAL_MINUTES"`
	ClosedWeekdays      []int         `mapstructure:"-"`
	OccupancyPolicy     string        `mapstructure:"SLOT_OCCUPANCY_POLICY"`
	SlotHoldTTL         time.Duration `mapstructure:"SLOT_HOLD_TTL"`
	GeminiAPIKey        string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel         string        `mapstructure:"GEMINI_MODEL"`
	InsuranceCardBucket string        `mapstructure:"INSURANCE_CARD_BUCKET"`
	AWSRegion           string        `mapstructure:"AWS_REGION"`
}

var boundKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"CLINIC_TIMEZONE", "CLINIC_OPEN_HOUR", "CLINIC_CLOSE_HOUR", "SLOT_INTERVAL_MINUTES",
	"CLOSED_WEEKDAYS", "SLOT_OCCUPANCY_POLICY", "SLOT_HOLD_TTL",
	"GEMINI_API_KEY", "GEMINI_MODEL", "INSURANCE_CARD_BUCKET", "AWS_REGION",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Tokyo")
	v.SetDefault("CLINIC_OPEN_HOUR", 9)
	v.SetDefault("CLINIC_CLOSE_HOUR", 18)
	v.SetDefault("SLOT_INTERVAL_MINUTES", 30)
	v.SetDefault("CLOSED_WEEKDAYS", "0") // Sunday
	v.SetDefault("SLOT_OCCUPANCY_POLICY", OccupancyClinic)
	v.SetDefault("SLOT_HOLD_TTL", "30s")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("AWS_REGION", "ap-northeast-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	closed, err := ParseWeekdays(v.GetString("CLOSED_WEEKDAYS"))
	if err != nil {
		return nil, err
	}
	cfg.ClosedWeekdays = closed

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); admin routes accept unauthenticated requests.")
	}

	return cfg, nil
}

// ParseWeekdays parses a comma separated list of weekday numbers
// (0=Sunday .. 6=Saturday). An empty string means no closed days.
func ParseWeekdays(s string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("CLOSED_WEEKDAYS: invalid weekday %q", part)
		}
		days = append(days, d)
	}
	return days, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Validate has already rejected
// unknown zones, so the UTC fallback only matters for hand-built configs.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Business hours
// are checked here because the availability calculator treats them as
// trusted input.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	if c.ClinicOpenHour < 0 || c.ClinicCloseHour > 24 || c.ClinicOpenHour >= c.ClinicCloseHour {
		return fmt.Errorf("CLINIC_OPEN_HOUR (%d) must be before CLINIC_CLOSE_HOUR (%d) within 0-24",
			c.ClinicOpenHour, c.ClinicCloseHour)
	}
	if c.SlotIntervalMinutes <= 0 {
		return fmt.Errorf("SLOT_INTERVAL_MINUTES must be positive, got %d", c.SlotIntervalMinutes)
	}
	if span := (c.ClinicCloseHour - c.ClinicOpenHour) * 60; span%c.SlotIntervalMinutes != 0 {
		return fmt.Errorf("SLOT_INTERVAL_MINUTES (%d) must divide the business day (%d minutes)",
			c.SlotIntervalMinutes, span)
	}
	for _, d := range c.ClosedWeekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("CLOSED_WEEKDAYS: weekday %d out of range 0-6", d)
		}
	}
	if c.OccupancyPolicy != OccupancyClinic && c.OccupancyPolicy != OccupancyUnit {
		return fmt.Errorf("SLOT_OCCUPANCY_POLICY must be %q or %q, got %q",
			OccupancyClinic, OccupancyUnit, c.OccupancyPolicy)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
