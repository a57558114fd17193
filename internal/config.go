package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"required,min=32"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	NearExpiryThreshold  time.Duration `mapstructure:"near_expiry_threshold" validate:"required,min=1m"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
	// FailOpenOnStoreError lets authentication trust verified token claims
	// when the credential store cannot be reached. Default is fail closed.
	FailOpenOnStoreError bool `mapstructure:"fail_open_on_store_error"`
	DefaultTenantID      string `mapstructure:"default_tenant_id"`
}

type RedisConfig struct {
	// Addr empty disables the reports cache entirely.
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	ReportsCacheTTL time.Duration `mapstructure:"reports_cache_ttl"`
}

type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration purely from environment
// variables. Container deployments use this path instead of config.yml;
// variable names follow the same ENV_ prefix viper applies to file keys.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("ENV_HTTP_SERVER_PORT", 8080),
			BaseURL:           getEnv("ENV_HTTP_SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ENV_HTTP_SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("ENV_HTTP_SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("ENV_HTTP_SERVER_READ_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("ENV_HTTP_SERVER_IDLE_TIMEOUT", 120*time.Second),
			WriteTimeout:      getEnvAsDuration("ENV_HTTP_SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("ENV_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("ENV_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("ENV_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("ENV_DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("ENV_DATABASE_SOURCE", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("ENV_SECURITY_ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("ENV_SECURITY_REFRESH_TOKEN_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ENV_SECURITY_ACCESS_TOKEN_DURATION", 180*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("ENV_SECURITY_REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			NearExpiryThreshold:  getEnvAsDuration("ENV_SECURITY_NEAR_EXPIRY_THRESHOLD", 10*time.Minute),
			BCryptCost:           getEnvAsInt("ENV_SECURITY_BCRYPT_COST", 12),
			FailOpenOnStoreError: getEnvAsBool("ENV_SECURITY_FAIL_OPEN_ON_STORE_ERROR", false),
			DefaultTenantID:      getEnv("ENV_SECURITY_DEFAULT_TENANT_ID", "default"),
		},
		Redis: RedisConfig{
			Addr:            getEnv("ENV_REDIS_ADDR", ""),
			Password:        getEnv("ENV_REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("ENV_REDIS_DB", 0),
			ReportsCacheTTL: getEnvAsDuration("ENV_REDIS_REPORTS_CACHE_TTL", 5*time.Minute),
		},
		Sweeper: SweeperConfig{
			Enabled:  getEnvAsBool("ENV_SWEEPER_ENABLED", true),
			Schedule: getEnv("ENV_SWEEPER_SCHEDULE", "@every 15m"),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("ENV_OBSERVABILITY_METRICS_ENABLED", true),
				Path:    getEnv("ENV_OBSERVABILITY_METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("ENV_OBSERVABILITY_LOGGING_LEVEL", "info"),
				Format: getEnv("ENV_OBSERVABILITY_LOGGING_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Sweeper.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sweeper config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access token secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh token secret must be at least 32 characters")
	}
	if c.AccessTokenDuration <= 0 {
		return errors.New("access_token_duration must be positive")
	}
	if c.RefreshTokenDuration <= c.AccessTokenDuration {
		return errors.New("refresh_token_duration must be longer than access_token_duration")
	}
	if c.NearExpiryThreshold <= 0 || c.NearExpiryThreshold >= c.AccessTokenDuration {
		return errors.New("near_expiry_threshold must be positive and shorter than access_token_duration")
	}
	if c.BCryptCost < 10 || c.BCryptCost > 15 {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	return nil
}

func (c *SweeperConfig) Validate() error {
	if c.Enabled && strings.TrimSpace(c.Schedule) == "" {
		return errors.New("schedule is required when sweeper is enabled")
	}
	return nil
}
