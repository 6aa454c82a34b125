package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// Database Configuration (notification store)
	Database DatabaseConfig `mapstructure:"database"`

	// MongoDB Configuration (poll and comment documents)
	MongoDB MongoDBConfig `mapstructure:"mongodb"`

	Auth AuthConfig `mapstructure:"auth"`

	// Realtime Configuration (websocket push channel)
	Realtime RealtimeConfig `mapstructure:"realtime"`

	// Notification Configuration
	Notification NotificationConfig `mapstructure:"notification"`

	// Logging Configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	Environment  string `mapstructure:"environment"`   // development, staging, production
	InternalKey  string `mapstructure:"internal_key"`  // shared secret for /internal routes
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	DatabaseName string `mapstructure:"database_name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}

type MongoDBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RealtimeConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

// NotificationConfig contains notification system configuration
type NotificationConfig struct {
	MaxRetries           int           `mapstructure:"max_retries"` // append attempts after the first
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	ClosureCheckInterval time.Duration `mapstructure:"closure_check_interval"`
	DefaultLimit         int           `mapstructure:"default_limit"`
	MaxLimit             int           `mapstructure:"max_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// env var -> config key
var envBindings = map[string]string{
	"server.port":                         "SERVER_PORT",
	"server.host":                         "SERVER_HOST",
	"server.read_timeout":                 "SERVER_READ_TIMEOUT",
	"server.write_timeout":                "SERVER_WRITE_TIMEOUT",
	"server.environment":                  "APP_ENV",
	"server.internal_key":                 "INTERNAL_API_KEY",
	"database.driver":                     "DB_DRIVER",
	"database.host":                       "DB_HOST",
	"database.port":                       "DB_PORT",
	"database.username":                   "DB_USER",
	"database.password":                   "DB_PASSWORD",
	"database.database_name":              "DB_NAME",
	"database.ssl_mode":                   "DB_SSLMODE",
	"database.path":                       "DB_PATH",
	"database.max_open_conns":             "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":             "DB_MAX_IDLE_CONNS",
	"database.log_queries":                "DB_LOG_QUERIES",
	"mongodb.enabled":                     "MONGO_ENABLED",
	"mongodb.uri":                         "MONGO_URI",
	"mongodb.host":                        "MONGO_HOST",
	"mongodb.port":                        "MONGO_PORT",
	"mongodb.username":                    "MONGO_USERNAME",
	"mongodb.password":                    "MONGO_PASSWORD",
	"mongodb.database":                    "MONGO_DATABASE",
	"auth.jwt_secret":                     "JWT_SECRET",
	"auth.issuer":                         "JWT_ISSUER",
	"realtime.handshake_timeout":          "WS_HANDSHAKE_TIMEOUT",
	"realtime.ping_interval":              "WS_PING_INTERVAL",
	"realtime.write_wait":                 "WS_WRITE_WAIT",
	"realtime.send_buffer":                "WS_SEND_BUFFER",
	"realtime.allowed_origins":            "WS_ALLOWED_ORIGINS",
	"notification.max_retries":            "NOTIF_MAX_RETRIES",
	"notification.retry_delay":            "NOTIF_RETRY_DELAY",
	"notification.closure_check_interval": "POLL_CLOSURE_INTERVAL",
	"notification.default_limit":          "NOTIF_DEFAULT_LIMIT",
	"notification.max_limit":              "NOTIF_MAX_LIMIT",
	"logging.level":                       "LOG_LEVEL",
	"logging.format":                      "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "")
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.internal_key", "")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.username", "pollcast")
	v.SetDefault("database.password", "pollcast")
	v.SetDefault("database.database_name", "pollcast")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "pollcast.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_queries", false)

	v.SetDefault("mongodb.enabled", false)
	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.host", "localhost")
	v.SetDefault("mongodb.port", "27017")
	v.SetDefault("mongodb.username", "")
	v.SetDefault("mongodb.password", "")
	v.SetDefault("mongodb.database", "pollcast")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("realtime.handshake_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 25*time.Second)
	v.SetDefault("realtime.write_wait", 10*time.Second)
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.allowed_origins", []string{})

	v.SetDefault("notification.max_retries", 2)
	v.SetDefault("notification.retry_delay", 100*time.Millisecond)
	v.SetDefault("notification.closure_check_interval", time.Minute)
	v.SetDefault("notification.default_limit", 50)
	v.SetDefault("notification.max_limit", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads .env (if present), then an optional YAML file named by
// CONFIG_FILE, then environment variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// comma-separated origins from the environment
	var origins []string
	for _, o := range cfg.Realtime.AllowedOrigins {
		origins = append(origins, splitList(o)...)
	}
	cfg.Realtime.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
	if cfg.Notification.MaxRetries < 0 {
		return errors.New("NOTIF_MAX_RETRIES must not be negative")
	}
	if cfg.Realtime.SendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// DSN builds the driver-specific connection string.
func (cfg *Config) DSN() string {
	db := cfg.Database
	switch db.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			db.Host, db.Port, db.Username, db.Password, db.DatabaseName, db.SSLMode)
	case "sqlite":
		return db.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	}
}

func (cfg *Config) GetMongoURI() string {
	m := cfg.MongoDB
	if m.URI != "" {
		return m.URI
	}
	if m.Username == "" {
		return fmt.Sprintf("mongodb://%s:%s", m.Host, m.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s", m.Username, m.Password, m.Host, m.Port)
}

func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
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
