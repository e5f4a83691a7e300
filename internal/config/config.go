package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tourbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Booking    BookingConfig    `yaml:"booking"`
	Payment    PaymentConfig    `yaml:"payment"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Google     GoogleConfig     `yaml:"google"`
	ToursFile  string           `yaml:"tours_file"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuthConfig drives token signing and role assignment. Emails listed in
// Admins or Staff get that role when they register.
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret"`
	TokenTTL         time.Duration `yaml:"token_ttl"`
	Admins           []string      `yaml:"admins"`
	Staff            []string      `yaml:"staff"`
	LoginAttempts    int           `yaml:"login_attempts"`
	LoginAttemptsTTL time.Duration `yaml:"login_attempts_window"`
}

type BookingConfig struct {
	// MaxPeople bounds party size on the server; 0 disables the bound.
	MaxPeople int `yaml:"max_people"`

	// Timezone decides what "today" means for date validation and reminders.
	Timezone string `yaml:"timezone"`
}

type PaymentConfig struct {
	BankName      string   `yaml:"bank_name"`
	AccountName   string   `yaml:"account_name"`
	AccountNumber string   `yaml:"account_number"`
	EWallets      []string `yaml:"ewallets"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`

	// ReminderTime is the local HH:MM at which tomorrow's departures are posted.
	ReminderTime string `yaml:"reminder_time"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
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

type GoogleConfig struct {
	CredentialsFile      string `yaml:"credentials_file"`
	BookingSpreadSheetID string `yaml:"bookings_spreadsheet_id"`
	// completed sync tasks older than this are purged; 0 keeps the default week
	SyncRetention time.Duration `yaml:"sync_retention"`
	ResyncOnStart bool          `yaml:"resync_on_start"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Booking.MaxPeople < 0 {
		return errors.New("booking.max_people must not be negative")
	}
	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("booking.timezone: %w", err)
		}
	}
	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka.topic is set")
	}
	return nil
}

// ValidateTours checks the seed catalogue for empty or duplicate IDs.
func ValidateTours(tours []models.Tour) error {
	ids := make(map[string]bool)
	for _, tour := range tours {
		if strings.TrimSpace(tour.ID) == "" {
			return fmt.Errorf("tour '%s' has empty ID", tour.Title)
		}
		if ids[tour.ID] {
			return fmt.Errorf("duplicate tour ID found: %s", tour.ID)
		}
		if tour.Price < 0 {
			return fmt.Errorf("tour %s has negative price", tour.ID)
		}
		ids[tour.ID] = true
	}
	return nil
}

// IsAdmin reports whether email is listed as an administrator.
func (c *Config) IsAdmin(email string) bool {
	return containsFold(c.Auth.Admins, email)
}

// IsStaff reports whether email is listed as staff.
func (c *Config) IsStaff(email string) bool {
	return containsFold(c.Auth.Staff, email)
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tourbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.RequestTimeout == 0 {
		c.API.HTTP.RequestTimeout = 15 * time.Second
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.LoginAttempts == 0 {
		c.Auth.LoginAttempts = 5
	}
	if c.Auth.LoginAttemptsTTL == 0 {
		c.Auth.LoginAttemptsTTL = time.Minute
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Payment.BankName == "" {
		c.Payment.BankName = "Vietcombank - CN Da Nang"
	}
	if c.Payment.AccountName == "" {
		c.Payment.AccountName = "CONG TY DU LICH DA NANG"
	}
	if len(c.Payment.EWallets) == 0 {
		c.Payment.EWallets = []string{"MoMo", "ZaloPay", "VNPay"}
	}
	if c.ToursFile == "" {
		c.ToursFile = "configs/tours.yaml"
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Asia/Ho_Chi_Minh"
	}
	if c.Telegram.ReminderTime == "" {
		c.Telegram.ReminderTime = "18:00"
	}
}

// Location resolves Booking.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
