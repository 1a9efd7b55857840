package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Backup     BackupConfig
	Storage    StorageConfig
	Payment    PaymentConfig
	AI         AIConfig
	Mail       MailConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	AutoMigrate bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// BackupConfig controls snapshot storage and the manual trigger cooldown.
type BackupConfig struct {
	LocalDir        string
	CooldownMinutes int
	Cron            string
	DefaultType     string // LOCAL or CLOUD
}

// StorageConfig selects the object store used for CLOUD backups.
type StorageConfig struct {
	Provider    string // s3 or gcs
	Bucket      string
	Prefix      string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	GCSCredFile string
}

type PaymentConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type AIConfig struct {
	LatencyMillis int
}

type MailConfig struct {
	From    string
	BaseURL string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (b *BackupConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMinutes) * time.Minute
}

func (a *AIConfig) Latency() time.Duration {
	return time.Duration(a.LatencyMillis) * time.Millisecond
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "clinic")
	v.SetDefault("DATABASE_PASSWORD", "clinic_secret")
	v.SetDefault("DATABASE_NAME", "clinic")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_AUTO_MIGRATE", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("BACKUP_LOCAL_DIR", "./backups")
	v.SetDefault("BACKUP_COOLDOWN_MINUTES", 5)
	v.SetDefault("BACKUP_CRON", "0 2 * * *")
	v.SetDefault("BACKUP_DEFAULT_TYPE", "LOCAL")
	v.SetDefault("STORAGE_PROVIDER", "s3")
	v.SetDefault("STORAGE_PREFIX", "backups")
	v.SetDefault("STORAGE_S3_REGION", "ap-south-1")
	v.SetDefault("AI_LATENCY_MS", 1500)
	v.SetDefault("MAIL_FROM", "no-reply@go-clinic.local")
	v.SetDefault("MAIL_BASE_URL", "http://localhost:3000")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("DATABASE_HOST"),
			Port:        v.GetInt("DATABASE_PORT"),
			User:        v.GetString("DATABASE_USER"),
			Password:    v.GetString("DATABASE_PASSWORD"),
			Name:        v.GetString("DATABASE_NAME"),
			SSLMode:     v.GetString("DATABASE_SSLMODE"),
			AutoMigrate: v.GetBool("DATABASE_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Backup: BackupConfig{
			LocalDir:        v.GetString("BACKUP_LOCAL_DIR"),
			CooldownMinutes: v.GetInt("BACKUP_COOLDOWN_MINUTES"),
			Cron:            v.GetString("BACKUP_CRON"),
			DefaultType:     strings.ToUpper(v.GetString("BACKUP_DEFAULT_TYPE")),
		},
		Storage: StorageConfig{
			Provider:    strings.ToLower(v.GetString("STORAGE_PROVIDER")),
			Bucket:      v.GetString("STORAGE_BUCKET"),
			Prefix:      v.GetString("STORAGE_PREFIX"),
			S3Region:    v.GetString("STORAGE_S3_REGION"),
			S3Endpoint:  v.GetString("STORAGE_S3_ENDPOINT"),
			S3AccessKey: v.GetString("STORAGE_S3_ACCESS_KEY"),
			S3SecretKey: v.GetString("STORAGE_S3_SECRET_KEY"),
			GCSCredFile: v.GetString("STORAGE_GCS_CREDENTIALS_FILE"),
		},
		Payment: PaymentConfig{
			KeyID:         v.GetString("RAZORPAY_KEY_ID"),
			KeySecret:     v.GetString("RAZORPAY_KEY_SECRET"),
			WebhookSecret: v.GetString("RAZORPAY_WEBHOOK_SECRET"),
		},
		AI: AIConfig{
			LatencyMillis: v.GetInt("AI_LATENCY_MS"),
		},
		Mail: MailConfig{
			From:    v.GetString("MAIL_FROM"),
			BaseURL: v.GetString("MAIL_BASE_URL"),
		},
	}

	return cfg, nil
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
