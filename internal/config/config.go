// Package config provides environment-based configuration management
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig holds the MariaDB audit log connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Enabled reports whether the audit log database is configured
func (c *DBConfig) Enabled() bool {
	return c.Password != ""
}

// MongoConfig holds the conversation store connection parameters
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string // Format: host:port
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port        int
	Env         string
	LogLevel    string
	StoreDriver string // "mongo" | "memory"
	CORSOrigins []string
}

// ChatConfig holds the relay tunables
type ChatConfig struct {
	AutoReplyMinDelay time.Duration
	AutoReplyMaxDelay time.Duration
	AutoReplyEnabled  bool
	Location          *time.Location
	MessageRateLimit  int
	MessageRateWindow time.Duration
	AlertWebhookURL   string
	AlertSecret       string
	AlertCooldown     time.Duration
}

// WatchdogConfig holds the audit purge policy
type WatchdogConfig struct {
	Interval      time.Duration
	DiskThreshold float64
	Retention     time.Duration
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	App       AppConfig
	Chat      ChatConfig
	Watchdog  WatchdogConfig
	JWTSecret string
}

// LoadConfig reads configuration from environment variables, seeded from a
// .env file when present. Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.App.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", "mongo"))
	cfg.App.CORSOrigins = getEnvAsList("CORS_ORIGINS", []string{"*"})

	if cfg.App.StoreDriver != "mongo" && cfg.App.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be mongo or memory, got %q", cfg.App.StoreDriver)
	}

	// Conversation store
	cfg.Mongo.URI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnv("MONGO_DB", "flower_shop")

	// Audit log (optional)
	cfg.DB.Host = getEnv("DB_HOST", "chat_os_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "flower_chat")

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	// Chat relay
	cfg.Chat.AutoReplyMinDelay = getEnvAsDuration("AUTOREPLY_MIN_DELAY", 800*time.Millisecond)
	cfg.Chat.AutoReplyMaxDelay = getEnvAsDuration("AUTOREPLY_MAX_DELAY", 1500*time.Millisecond)
	cfg.Chat.AutoReplyEnabled = getEnvAsBool("AUTOREPLY_ENABLED", true)
	cfg.Chat.MessageRateLimit = getEnvAsInt("MESSAGE_RATE_LIMIT", 20)
	cfg.Chat.MessageRateWindow = getEnvAsDuration("MESSAGE_RATE_WINDOW", time.Minute)
	cfg.Chat.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Chat.AlertSecret = getEnv("ALERT_WEBHOOK_SECRET", "")
	cfg.Chat.AlertCooldown = getEnvAsDuration("ALERT_COOLDOWN", 10*time.Minute)

	if cfg.Chat.AutoReplyMaxDelay < cfg.Chat.AutoReplyMinDelay {
		return nil, fmt.Errorf("AUTOREPLY_MAX_DELAY (%s) is below AUTOREPLY_MIN_DELAY (%s)",
			cfg.Chat.AutoReplyMaxDelay, cfg.Chat.AutoReplyMinDelay)
	}

	tz := getEnv("CHAT_TIMEZONE", "Asia/Ho_Chi_Minh")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load CHAT_TIMEZONE %q: %w", tz, err)
	}
	cfg.Chat.Location = loc

	// Watchdog
	cfg.Watchdog.Interval = getEnvAsDuration("WATCHDOG_INTERVAL", 10*time.Minute)
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", 70)
	cfg.Watchdog.Retention = time.Duration(getEnvAsInt("AUDIT_RETENTION_DAYS", 7)) * 24 * time.Hour

	// In production, require explicit store addresses
	if cfg.IsProduction() {
		if cfg.App.StoreDriver == "mongo" && os.Getenv("MONGO_URI") == "" {
			return nil, fmt.Errorf("MONGO_URI is required in production")
		}
		if os.Getenv("REDIS_ADDR") == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required in production")
		}
	}

	return cfg, nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration syntax ("800ms", "10m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
