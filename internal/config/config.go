// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AuthMode selects how bearer tokens are interpreted.
type AuthMode string

const (
	// AuthModeJWT expects a signed JWT carrying the user id.
	AuthModeJWT AuthMode = "JWT"
	// AuthModeUID expects the raw user id as the token. Development only.
	AuthModeUID AuthMode = "UID"
)

// Config holds application configuration
type Config struct {
	MarketName string // Market identifier, e.g. "CHINA_A"
	DataDir    string // Base directory for databases, lock files and backups
	Port       int
	DevMode    bool // Dev mode swaps Redis for the in-process cache
	LogLevel   string
	LogPretty  bool
	Timezone   string // Trading calendar timezone, e.g. "Asia/Shanghai"

	Auth     AuthConfig
	Quotes   QuotesConfig
	Redis    RedisConfig
	User     UserDefaults
	Backup   BackupConfig
	LockFile string // Advisory lock so only one instance runs the scheduler
}

// AuthConfig holds bearer-token settings.
type AuthConfig struct {
	Mode               AuthMode
	TokenPrefix        string // e.g. "Token"
	JWTSecret          string
	JWTAlgorithm       string // HS256 only; kept explicit for config parity
	AccessTokenMinutes int
}

// QuotesConfig holds quote provider settings.
type QuotesConfig struct {
	Endpoint       string // HTTP polling endpoint
	StreamURL      string // Optional websocket push feed; empty disables streaming
	RequestTimeout time.Duration
}

// RedisConfig holds fast-store connection settings.
type RedisConfig struct {
	Addr       string
	Password   string
	UserDB     int // Logical database holding user projections
	PositionDB int // Logical database holding position projections
}

// UserDefaults are applied to newly registered accounts.
type UserDefaults struct {
	Capital    string // Decimal strings; parsed once at startup
	Commission string
	TaxRate    string
	Slippage   string
}

// BackupConfig holds ledger snapshot settings.
type BackupConfig struct {
	Enabled    bool
	Dir        string // Local snapshot directory
	KeepDays   int
	S3Bucket    string // Empty disables the remote upload
	S3Prefix    string
	S3Region    string
	S3Endpoint  string // Optional custom endpoint for S3-compatible storage
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PAPERTRADE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		MarketName: getEnv("MARKET_NAME", "CHINA_A"),
		DataDir:    absDataDir,
		Port:       getEnvAsInt("PORT", 8000),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", false),
		Timezone:   getEnv("MARKET_TIMEZONE", "Asia/Shanghai"),
		Auth: AuthConfig{
			Mode:               AuthMode(getEnv("AUTH_MODE", string(AuthModeJWT))),
			TokenPrefix:        getEnv("TOKEN_PREFIX", "Token"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			JWTAlgorithm:       getEnv("JWT_ALGORITHM", "HS256"),
			AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_MINUTES", 60*24),
		},
		Quotes: QuotesConfig{
			Endpoint:       getEnv("QUOTES_ENDPOINT", "http://qt.gtimg.cn"),
			StreamURL:      getEnv("QUOTES_STREAM_URL", ""),
			RequestTimeout: time.Duration(getEnvAsInt("QUOTES_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			UserDB:     getEnvAsInt("REDIS_USER_DB", 0),
			PositionDB: getEnvAsInt("REDIS_POSITION_DB", 1),
		},
		User: UserDefaults{
			Capital:    getEnv("USER_DEFAULT_CAPITAL", "1000000"),
			Commission: getEnv("USER_DEFAULT_COMMISSION", "0.0003"),
			TaxRate:    getEnv("USER_DEFAULT_TAX_RATE", "0.001"),
			Slippage:   getEnv("USER_DEFAULT_SLIPPAGE", "0.01"),
		},
		Backup: BackupConfig{
			Enabled:     getEnvAsBool("BACKUP_ENABLED", false),
			Dir:         getEnv("BACKUP_DIR", filepath.Join(absDataDir, "backups")),
			KeepDays:    getEnvAsInt("BACKUP_KEEP_DAYS", 7),
			S3Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			S3Prefix:    getEnv("BACKUP_S3_PREFIX", "papertrade"),
			S3Region:    getEnv("BACKUP_S3_REGION", "auto"),
			S3Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			S3AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		},
		LockFile: getEnv("SCHEDULER_LOCK_FILE", filepath.Join(absDataDir, "scheduler.lock")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath returns the SQLite file path inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "papertrade.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=JWT")
		}
		if c.Auth.JWTAlgorithm != "HS256" {
			return fmt.Errorf("unsupported JWT algorithm %q (only HS256)", c.Auth.JWTAlgorithm)
		}
	case AuthModeUID:
		// No secret needed; the token is the user id.
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Timezone, err)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
