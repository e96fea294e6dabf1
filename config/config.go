// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the group-buy engine
type Config struct {
	Database      DatabaseConfig      `json:"database"`
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Cache         CacheConfig         `json:"cache"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Payment       PaymentConfig       `json:"payment"`
	Orders        OrdersConfig        `json:"orders"`
	Notifications NotificationsConfig `json:"notifications"`
	Environment   string              `json:"environment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
	ProxyHeader     string        `json:"proxy_header"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	Provider    string        `json:"provider"` // redis, memory
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

type SchedulerConfig struct {
	FulfillmentEnabled  bool          `json:"fulfillment_enabled"`
	FulfillmentInterval time.Duration `json:"fulfillment_interval"`
	SweepEnabled        bool          `json:"sweep_enabled"`
	SweepInterval       time.Duration `json:"sweep_interval"`
	SweepBatchSize      int           `json:"sweep_batch_size"`
	LockTTL             time.Duration `json:"lock_ttl"`
	LogPath             string        `json:"log_path"`
}

type PaymentConfig struct {
	ServerKey     string `json:"server_key"`
	UseProduction bool   `json:"use_production"`
	UseMock       bool   `json:"use_mock"`
}

type OrdersConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
	UseMock bool          `json:"use_mock"`
}

type NotificationsConfig struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// LoadConfig loads configuration from environment variables, optionally
// seeded from a .env file
func LoadConfig() (*Config, error) {
	if err := loadEnvFile(".env"); err != nil {
		// Missing .env is fine; environment variables may be set directly
		if !os.IsNotExist(err) {
			fmt.Printf("Warning: could not load .env file: %v\n", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "groupbuy"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024),
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:   getEnvString("LOG_FILE_PATH", "logs/engine.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			Provider:    getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379/0"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "groupbuy:"),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", 15*time.Second),
		},
		Scheduler: SchedulerConfig{
			FulfillmentEnabled:  getEnvBool("SCHEDULER_FULFILLMENT_ENABLED", true),
			FulfillmentInterval: getEnvDuration("SCHEDULER_FULFILLMENT_INTERVAL", 1*time.Minute),
			SweepEnabled:        getEnvBool("SCHEDULER_SWEEP_ENABLED", true),
			SweepInterval:       getEnvDuration("SCHEDULER_SWEEP_INTERVAL", 1*time.Minute),
			SweepBatchSize:      getEnvInt("SCHEDULER_SWEEP_BATCH_SIZE", 200),
			LockTTL:             getEnvDuration("SCHEDULER_LOCK_TTL", 2*time.Minute),
			LogPath:             getEnvString("SCHEDULER_LOG_PATH", "logs/scheduler.log"),
		},
		Payment: PaymentConfig{
			ServerKey:     getEnvString("PAYMENT_SERVER_KEY", ""),
			UseProduction: getEnvBool("PAYMENT_USE_PRODUCTION", false),
			UseMock:       getEnvBool("PAYMENT_USE_MOCK", false),
		},
		Orders: OrdersConfig{
			BaseURL: getEnvString("ORDERS_BASE_URL", ""),
			APIKey:  getEnvString("ORDERS_API_KEY", ""),
			Timeout: getEnvDuration("ORDERS_TIMEOUT", 10*time.Second),
			UseMock: getEnvBool("ORDERS_USE_MOCK", false),
		},
		Notifications: NotificationsConfig{
			RatePerSecond: float64(getEnvInt("NOTIFICATIONS_RATE_PER_SECOND", 10)),
			Burst:         getEnvInt("NOTIFICATIONS_BURST", 20),
		},
		Environment: getEnvString("ENVIRONMENT", "development"),
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration
func ValidateConfig(cfg *Config) error {
	var errors []string

	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if cfg.Scheduler.FulfillmentInterval <= 0 {
		errors = append(errors, "SCHEDULER_FULFILLMENT_INTERVAL must be positive")
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		errors = append(errors, "SCHEDULER_SWEEP_INTERVAL must be positive")
	}
	if cfg.Scheduler.SweepBatchSize <= 0 {
		errors = append(errors, "SCHEDULER_SWEEP_BATCH_SIZE must be positive")
	}

	if !cfg.Payment.UseMock && cfg.Payment.ServerKey == "" {
		errors = append(errors, "PAYMENT_SERVER_KEY is required unless PAYMENT_USE_MOCK is set")
	}
	if !cfg.Orders.UseMock && cfg.Orders.BaseURL == "" {
		errors = append(errors, "ORDERS_BASE_URL is required unless ORDERS_USE_MOCK is set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// loadEnvFile loads environment variables from a .env file without
// overriding variables that are already set
func loadEnvFile(envFile string) error {
	file, err := os.Open(envFile)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
