package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Mongo    MongoConfig    `yaml:"mongo" envconfig:"MONGO"`
	SMTP     SMTPConfig     `yaml:"smtp" envconfig:"SMTP"`
	Stripe   StripeConfig   `yaml:"stripe" envconfig:"STRIPE"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
}

// ServerConfig contains HTTP server configuration for both surfaces
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	DownloadPort    int           `yaml:"download_port" envconfig:"DOWNLOAD_PORT" default:"8081"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	AdminSecret    string          `yaml:"admin_secret" envconfig:"ADMIN_SECRET"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration. The webhook surface
// carries a stricter ceiling than the general API.
type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS          float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst        int     `yaml:"burst" envconfig:"BURST" default:"50"`
	WebhookRPS   float64 `yaml:"webhook_rps" envconfig:"WEBHOOK_RPS" default:"10"`
	WebhookBurst int     `yaml:"webhook_burst" envconfig:"WEBHOOK_BURST" default:"5"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
	ArchiveDir string `yaml:"archive_dir" envconfig:"ARCHIVE_DIR" default:"logs/archive"`
}

// MongoConfig contains document store configuration. An empty URI skips the
// connection attempt and starts directly in file-backed mode.
type MongoConfig struct {
	URI            string        `yaml:"uri" envconfig:"URI"`
	Database       string        `yaml:"database" envconfig:"DATABASE" default:"elv_licenses"`
	Collection     string        `yaml:"collection" envconfig:"COLLECTION" default:"licenses"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" default:"5s"`
}

// SMTPConfig contains mail transport configuration
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	Host     string `yaml:"host" envconfig:"HOST" default:"smtp.gmail.com"`
	Port     string `yaml:"port" envconfig:"PORT" default:"587"`
	Username string `yaml:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	FromName string `yaml:"from_name" envconfig:"FROM_NAME" default:"ELV Licensing"`
	FromAddr string `yaml:"from_addr" envconfig:"FROM_ADDR"`
}

// StripeConfig contains payment provider configuration. The API key is used
// to fetch checkout line items; the webhook secret authenticates inbound
// events.
type StripeConfig struct {
	APIKey        string `yaml:"api_key" envconfig:"API_KEY"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// LicenseConfig contains key generation configuration
type LicenseConfig struct {
	Salt      string `yaml:"salt" envconfig:"SALT"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX" default:"ELV"`
}

// Load loads configuration from environment variables and an optional config
// file, then validates it. Missing required secrets fail here, at startup,
// rather than surfacing later as runtime warnings.
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("ELV", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configFilePath returns the config file location, overridable via env
func configFilePath() string {
	if p := os.Getenv("ELV_CONFIG_FILE"); p != "" {
		return p
	}
	return "config.yaml"
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Security.AdminSecret == "" {
		envConfig.Security.AdminSecret = fileConfig.Security.AdminSecret
	}
	if envConfig.Stripe.WebhookSecret == "" {
		envConfig.Stripe.WebhookSecret = fileConfig.Stripe.WebhookSecret
	}
	if envConfig.License.Salt == "" {
		envConfig.License.Salt = fileConfig.License.Salt
	}
	if envConfig.Mongo.URI == "" {
		envConfig.Mongo.URI = fileConfig.Mongo.URI
	}
	if envConfig.SMTP.Username == "" {
		envConfig.SMTP.Username = fileConfig.SMTP.Username
	}
	if envConfig.SMTP.Password == "" {
		envConfig.SMTP.Password = fileConfig.SMTP.Password
	}
	if envConfig.SMTP.FromAddr == "" {
		envConfig.SMTP.FromAddr = fileConfig.SMTP.FromAddr
	}
	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.DownloadPort <= 0 || c.Server.DownloadPort > 65535 {
		return fmt.Errorf("invalid download tracker port: %d", c.Server.DownloadPort)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	// Required secrets are fatal at startup, never runtime warnings
	if c.License.Salt == "" {
		return fmt.Errorf("ELV_LICENSE_SALT is required for key generation")
	}

	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("ELV_STRIPE_WEBHOOK_SECRET is required for webhook verification")
	}

	if c.Security.AdminSecret == "" {
		return fmt.Errorf("ELV_SECURITY_ADMIN_SECRET is required for admin endpoints")
	}

	if c.SMTP.Enabled {
		if c.SMTP.Username == "" || c.SMTP.Password == "" {
			return fmt.Errorf("SMTP credentials are required when mail is enabled")
		}
	}

	// Always JSON format, dual output unless console-only was asked for
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Paths.LogsDir, "app.log")
	}

	return nil
}

// EnsureDirectories creates the data, logs and archive directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogsDir,
		c.Paths.ArchiveDir,
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks whether a path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
