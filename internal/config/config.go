package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"servicehub/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig            `yaml:"app"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`
	API            APIConfig            `yaml:"api"`
	Booking        BookingConfig        `yaml:"booking"`
	Payout         PayoutConfig         `yaml:"payout"`
	Settlement     SettlementConfig     `yaml:"settlement"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Notify         NotifyConfig         `yaml:"notify"`
	Cache          CacheConfig          `yaml:"cache"`
	Backup         BackupConfig         `yaml:"backup"`
	Services       []models.Service     `yaml:"services"`
	Packages       []models.Package     `yaml:"packages"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite, postgres
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	BusyTimeout  int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS    float64                  `yaml:"rps"`
	Burst  int                      `yaml:"burst"`
	Scopes map[string]APIScopeLimit `yaml:"scopes"` // keyed by permission, "public" for open routes
}

type APIScopeLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	AcceptanceWindow  time.Duration `yaml:"acceptance_window"`
	Timezone          string        `yaml:"timezone"`
	MaxAdvanceDays    int           `yaml:"max_advance_days"`
	AutoDetectPackage bool          `yaml:"auto_detect_package"`
}

// Location resolves the configured timezone, UTC when unset or unknown.
func (c BookingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type PayoutConfig struct {
	WeekendBonus    decimal.Decimal `yaml:"weekend_bonus"`
	BonusMode       string          `yaml:"bonus_mode"` // fixed, percent
	NonStandardDays []string        `yaml:"non_standard_days"`
	PackagePayouts  string          `yaml:"package_payouts"` // provider_fee, ineligible
}

type SettlementConfig struct {
	Schedule    string            `yaml:"schedule"`
	Enabled     bool              `yaml:"enabled"`
	DefaultRule models.PayoutRule `yaml:"default_rule"`
}

type ReconciliationConfig struct {
	Tolerance decimal.Decimal `yaml:"tolerance"`
}

type NotifyConfig struct {
	Backend  string `yaml:"backend"` // none, redis, amqp
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`

	Retry NotifyRetryConfig `yaml:"retry"`
}

// NotifyRetryConfig bounds redelivery of one event before it is
// dead-lettered.
type NotifyRetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Payout.BonusMode {
	case "fixed", "percent":
	default:
		return fmt.Errorf("unsupported payout.bonus_mode %q", c.Payout.BonusMode)
	}

	switch c.Payout.PackagePayouts {
	case "provider_fee", "ineligible":
	default:
		return fmt.Errorf("unsupported payout.package_payouts %q", c.Payout.PackagePayouts)
	}

	if _, err := c.Payout.Weekdays(); err != nil {
		return err
	}

	switch c.Notify.Backend {
	case "none", "redis":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return errors.New("notify.amqp_url is required for amqp backend")
		}
	default:
		return fmt.Errorf("unsupported notify.backend %q", c.Notify.Backend)
	}

	if r := c.Notify.Retry; r.MaxAttempts < 0 || r.InitialDelay < 0 || r.MaxDelay < 0 || r.BackoffFactor < 0 {
		return errors.New("notify.retry values must not be negative")
	}

	for scope, limit := range c.API.RateLimit.Scopes {
		if limit.RPS < 0 || limit.Burst < 0 {
			return fmt.Errorf("api.rate_limit.scopes.%s must not be negative", scope)
		}
	}

	if err := ValidateRule(&c.Settlement.DefaultRule); err != nil {
		return err
	}

	return ValidateServices(c.Services)
}

func ValidateServices(services []models.Service) error {
	ids := make(map[int64]bool)
	for _, svc := range services {
		if svc.ID == 0 {
			return fmt.Errorf("service '%s' has invalid ID 0", svc.Name)
		}
		if ids[svc.ID] {
			return fmt.Errorf("duplicate service ID found: %d", svc.ID)
		}
		if svc.Price.IsNegative() || svc.ProviderFee.IsNegative() {
			return fmt.Errorf("service %d has negative price or fee", svc.ID)
		}
		if svc.CommissionPct.IsNegative() || svc.CommissionPct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("service %d commission_pct must be within [0,100]", svc.ID)
		}
		ids[svc.ID] = true
	}
	return nil
}

func ValidateRule(rule *models.PayoutRule) error {
	switch rule.Frequency {
	case models.FrequencyWeekly, models.FrequencyBiWeekly:
		if rule.PayoutDay < 0 || rule.PayoutDay > 6 {
			return fmt.Errorf("payout_day %d must be a weekday 0-6", rule.PayoutDay)
		}
	case models.FrequencyMonthly:
		if rule.PayoutDay < 1 || rule.PayoutDay > 28 {
			return fmt.Errorf("payout_day %d must be within 1-28 for monthly rules", rule.PayoutDay)
		}
	default:
		return fmt.Errorf("unsupported payout frequency %q", rule.Frequency)
	}
	if rule.MinimumPayoutAmount.IsNegative() || rule.AutoApproveUnderAmount.IsNegative() {
		return errors.New("payout rule amounts must not be negative")
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekdays parses the configured non-standard days.
func (c PayoutConfig) Weekdays() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.NonStandardDays))
	for _, name := range c.NonStandardDays {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in payout.non_standard_days", name)
		}
		days = append(days, day)
	}
	return days, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "servicehub"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5000
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "servicehub:ref"
	}

	if c.Booking.AcceptanceWindow == 0 {
		c.Booking.AcceptanceWindow = models.DefaultAcceptanceWindowMinutes * time.Minute
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}

	if c.Payout.BonusMode == "" {
		c.Payout.BonusMode = "fixed"
	}
	if c.Payout.NonStandardDays == nil {
		c.Payout.NonStandardDays = []string{"saturday", "sunday"}
	}
	if c.Payout.PackagePayouts == "" {
		c.Payout.PackagePayouts = "provider_fee"
	}

	if c.Settlement.Schedule == "" {
		c.Settlement.Schedule = "@every 1h"
	}
	rule := &c.Settlement.DefaultRule
	if rule.Name == "" {
		rule.Name = "default"
	}
	if rule.Frequency == "" {
		rule.Frequency = models.FrequencyWeekly
	}
	if rule.Frequency == models.FrequencyMonthly && rule.PayoutDay == 0 {
		rule.PayoutDay = 1
	}
	if rule.RatingWindowDays == 0 {
		rule.RatingWindowDays = models.DefaultRatingWindowDays
	}
	rule.IsActive = true

	if c.Reconciliation.Tolerance.IsZero() {
		c.Reconciliation.Tolerance = decimal.NewFromFloat(0.01)
	}

	if c.Notify.Backend == "" {
		c.Notify.Backend = "none"
	}
	if c.Notify.Stream == "" {
		c.Notify.Stream = "servicehub:notifications"
	}
	if c.Notify.MaxLen == 0 {
		c.Notify.MaxLen = 10000
	}
	if c.Notify.Exchange == "" {
		c.Notify.Exchange = "servicehub.events"
	}
}
