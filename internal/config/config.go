package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is the development fallback for JWT_SECRET. Validate
// refuses it in production.
const DefaultJWTSecret = "change-me"

// minProductionSecretLen is the shortest JWT_SECRET accepted in production.
const minProductionSecretLen = 32

type Config struct {
	// Server
	Port          string
	Env           string
	PublicBaseURL string

	// Uploads and metadata
	UploadsDir         string
	UploadsURLPrefix   string
	UploadMaxImageSize int64
	UploadDailyLimit   int
	MetadataBackend    string // "json" | "badger"
	MetadataPath       string
	BadgerPath         string

	// Database
	DBDriver   string // "sqlite" | "postgres"
	SQLitePath string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret              string
	JWTAccessTokenDuration time.Duration

	// Admin
	AdminEmail        string
	AdminPassword     string
	AdminPasswordHash string
	BcryptCost        int

	// SMTP
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPFromName    string
	LeadNotifyEmail string

	// Media S3 mirror
	MediaS3Enabled         bool
	MediaS3Endpoint        string
	MediaS3Region          string
	MediaS3AccessKeyID     string
	MediaS3SecretAccessKey string
	MediaS3UsePathStyle    bool
	MediaImagesBucket      string

	// Backup S3
	BackupS3Endpoint        string
	BackupS3Region          string
	BackupS3AccessKeyID     string
	BackupS3SecretAccessKey string
	BackupS3UsePathStyle    bool
	BackupBucket            string

	// Scheduled jobs
	BackupCron        string
	OrphanSweepCron   string
	OrphanGracePeriod time.Duration
	OrphanSweepDelete bool

	// Security
	RateLimitRequests           int
	RateLimitDuration           time.Duration
	AdminRateLimitActions       int
	AdminRateLimitWindowMinutes int

	// CORS
	AllowedOrigins []string

	// Logging
	LogLevel         string
	LogFile          string
	LogFileMaxSizeMB int
	LogFileBackups   int
	LogFileMaxAge    int

	// Metrics
	MetricsEnabled bool
}

func New() *Config {
	uploadsDir := getEnv("UPLOADS_DIR", "public/uploads")

	return &Config{
		// Server
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		// Uploads and metadata
		UploadsDir:         uploadsDir,
		UploadsURLPrefix:   strings.TrimRight(getEnv("UPLOADS_URL_PREFIX", "/uploads"), "/"),
		UploadMaxImageSize: getEnvAsInt64("UPLOAD_MAX_IMAGE_SIZE", 15*1024*1024),
		UploadDailyLimit:   getEnvAsInt("UPLOAD_DAILY_LIMIT", 100),
		MetadataBackend:    getEnv("METADATA_BACKEND", "json"),
		MetadataPath:       getEnv("METADATA_PATH", filepath.Join(uploadsDir, "metadata.json")),
		BadgerPath:         getEnv("BADGER_PATH", "data/metadata_badger"),

		// Database
		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		SQLitePath: getEnv("SQLITE_PATH", "data/detailing.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "detailing"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "detailing_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:              getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTAccessTokenDuration: getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "12h"),

		// Admin
		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),

		// SMTP
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnv("SMTP_FROM", "no-reply@localhost"),
		SMTPFromName:    getEnv("SMTP_FROM_NAME", "Mobile Detailing"),
		LeadNotifyEmail: getEnv("LEAD_NOTIFY_EMAIL", ""),

		// Media S3 mirror
		MediaS3Enabled:         getEnvAsBool("MEDIA_S3_ENABLED", false),
		MediaS3Endpoint:        getEnv("MEDIA_S3_ENDPOINT", ""),
		MediaS3Region:          getEnv("MEDIA_S3_REGION", "us-east-1"),
		MediaS3AccessKeyID:     getEnv("MEDIA_S3_ACCESS_KEY_ID", ""),
		MediaS3SecretAccessKey: getEnv("MEDIA_S3_SECRET_ACCESS_KEY", ""),
		MediaS3UsePathStyle:    getEnvAsBool("MEDIA_S3_USE_PATH_STYLE", true),
		MediaImagesBucket:      getEnv("MEDIA_IMAGES_BUCKET", "detailing-images"),

		// Backup S3
		BackupS3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupS3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupS3UsePathStyle:    getEnvAsBool("BACKUP_S3_USE_PATH_STYLE", true),
		BackupBucket:            getEnv("BACKUP_BUCKET", ""),

		// Scheduled jobs
		BackupCron:        getEnv("BACKUP_CRON", "0 3 * * *"),
		OrphanSweepCron:   getEnv("ORPHAN_SWEEP_CRON", "30 3 * * *"),
		OrphanGracePeriod: getEnvAsDuration("ORPHAN_GRACE_PERIOD", "24h"),
		OrphanSweepDelete: getEnvAsBool("ORPHAN_SWEEP_DELETE", false),

		// Security
		RateLimitRequests:           getEnvAsInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitDuration:           getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),
		AdminRateLimitActions:       getEnvAsInt("ADMIN_RATE_LIMIT_ACTIONS", 30),
		AdminRateLimitWindowMinutes: getEnvAsInt("ADMIN_RATE_LIMIT_WINDOW_MINUTES", 5),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Logging
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		LogFileMaxSizeMB: getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 50),
		LogFileBackups:   getEnvAsInt("LOG_FILE_BACKUPS", 5),
		LogFileMaxAge:    getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30),

		// Metrics
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}
}

// Validate reports settings the server must not start with.
func (c *Config) Validate() error {
	if c.Env != "production" {
		return nil
	}
	switch {
	case c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret:
		return errors.New("JWT_SECRET must be set in production")
	case len(c.JWTSecret) < minProductionSecretLen:
		return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minProductionSecretLen)
	}
	return nil
}

// MediaMirrorEnabled reports whether uploaded images are copied to S3.
func (c *Config) MediaMirrorEnabled() bool {
	return c.MediaS3Enabled && c.MediaImagesBucket != ""
}

// BackupEnabled reports whether metadata snapshots can be uploaded.
func (c *Config) BackupEnabled() bool {
	return c.BackupBucket != ""
}

// SMTPEnabled reports whether outbound mail is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
