package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"yugi/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Exports    ExportConfig     `yaml:"exports"`
	Classes    []models.Class   `yaml:"classes"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	TTL      int    `yaml:"ttl_seconds"`
}

// BookingConfig carries the marketplace policy knobs.
type BookingConfig struct {
	ServiceFeeCents      int64 `yaml:"service_fee_cents"`
	HoldDays             int   `yaml:"hold_days"`
	CancelCutoffHours    int   `yaml:"cancel_cutoff_hours"`
	SweepIntervalMinutes int   `yaml:"sweep_interval_minutes"`
}

func (b BookingConfig) CancelCutoff() time.Duration {
	return time.Duration(b.CancelCutoffHours) * time.Hour
}

func (b BookingConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalMinutes) * time.Minute
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	OpsChatID int64  `yaml:"ops_chat_id"`
	Debug     bool   `yaml:"debug"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; when present its values feed the ${VAR}
	// placeholders in the YAML.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when telegram is enabled")
	}

	if c.Google.Enabled {
		if c.Google.GoogleCredentialsFile == "" {
			return errors.New("google credentials file is required when google sync is enabled")
		}
		if c.Google.BookingSpreadSheetID == "" {
			return errors.New("bookings spreadsheet id is required when google sync is enabled")
		}
	}

	return ValidateClasses(c.Classes)
}

// ValidateClasses checks the seed catalog for obvious mistakes.
func ValidateClasses(classes []models.Class) error {
	classIDs := make(map[int64]bool)
	for _, class := range classes {
		if class.ID == 0 {
			return fmt.Errorf("class '%s' has invalid ID 0", class.Name)
		}
		if classIDs[class.ID] {
			return fmt.Errorf("duplicate class ID found: %d", class.ID)
		}
		classIDs[class.ID] = true

		if class.PriceCents <= 0 {
			return fmt.Errorf("class '%s' must have a positive price", class.Name)
		}
		if class.SiblingPriceCents < 0 || class.SiblingPriceCents > class.PriceCents {
			return fmt.Errorf("class '%s' sibling price must be between 0 and the base price", class.Name)
		}
		if class.MaxCapacity < 1 {
			return fmt.Errorf("class '%s' must have capacity of at least 1", class.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Booking.ServiceFeeCents == 0 {
		c.Booking.ServiceFeeCents = models.DefaultServiceFeeCents
	}
	if c.Booking.HoldDays == 0 {
		c.Booking.HoldDays = models.DefaultHoldDays
	}
	if c.Booking.CancelCutoffHours == 0 {
		c.Booking.CancelCutoffHours = models.DefaultCancelCutoffHours
	}
	if c.Booking.SweepIntervalMinutes == 0 {
		c.Booking.SweepIntervalMinutes = 5
	}

	if c.Redis.TTL == 0 {
		c.Redis.TTL = models.DefaultRedisTTL
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
