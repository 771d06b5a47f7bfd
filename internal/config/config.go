package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Archive   ArchiveConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               string
	CORSAllowedOrigins []string
	// AuthRequestsPerMinute throttles /auth requests per client address
	AuthRequestsPerMinute int
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig selects the session store. An empty URL keeps sessions in memory.
type RedisConfig struct {
	URL string
}

// SessionConfig holds session and cookie configuration
type SessionConfig struct {
	Timeout             time.Duration
	Secret              string
	RememberTokenSecret string
	RememberTokenExpiry time.Duration
	CookieSecure        bool
	Issuer              string
}

// RateLimitConfig holds login throttling configuration
type RateLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
}

// ArchiveConfig selects and configures the activity archive backend
type ArchiveConfig struct {
	// Backend is one of "fs", "s3" or "none"
	Backend string
	Path    string
	S3      S3Config
}

// S3Config holds S3/MinIO configuration for the archive
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	UseSSL          bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                  getEnv("SERVER_PORT", "8080"),
			CORSAllowedOrigins:    getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AuthRequestsPerMinute: getIntEnv("AUTH_REQUESTS_PER_MINUTE", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "secure_login"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Session: SessionConfig{
			Timeout:             getDurationEnv("SESSION_TIMEOUT", time.Hour),
			Secret:              getEnv("SESSION_SECRET", ""),
			RememberTokenSecret: getEnv("REMEMBER_TOKEN_SECRET", ""),
			RememberTokenExpiry: getDurationEnv("REMEMBER_TOKEN_EXPIRY", 30*24*time.Hour),
			CookieSecure:        getBoolEnv("COOKIE_SECURE", false),
			Issuer:              getEnv("SESSION_ISSUER", "secure-login"),
		},
		RateLimit: RateLimitConfig{
			Window:      getDurationEnv("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
			MaxAttempts: getIntEnv("LOGIN_MAX_ATTEMPTS", 5),
		},
		Archive: ArchiveConfig{
			Backend: strings.ToLower(getEnv("ARCHIVE_BACKEND", "fs")),
			Path:    getEnv("ARCHIVE_PATH", "user_data"),
			S3: S3Config{
				Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
				Region:          getEnv("S3_REGION", "us-east-1"),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
				Bucket:          getEnv("S3_BUCKET", "activity-archive"),
				Prefix:          getEnv("S3_PREFIX", "user_data"),
				UseSSL:          getBoolEnv("S3_USE_SSL", false),
			},
		},
	}
}

// Validate reports configuration that the server cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_SECRET environment variable is required"))
	} else if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Session.RememberTokenSecret == "" {
		errs = append(errs, errors.New("REMEMBER_TOKEN_SECRET environment variable is required"))
	}
	switch c.Archive.Backend {
	case "fs", "s3", "none":
	default:
		errs = append(errs, errors.New("ARCHIVE_BACKEND must be one of fs, s3, none"))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getListEnv returns a comma separated environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getDurationEnv returns duration from environment variable (in minutes) or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}
