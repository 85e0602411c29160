package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Generation GenerationConfig `mapstructure:"generation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port      int    `mapstructure:"port"`
	ClamdAddr string `mapstructure:"clamd_addr"`
	// MaxUploadBytes 限制参考图上传大小。
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// LogConfig 控制 slog 的输出级别与格式（text/json）。
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains connection options for PostgreSQL.
// Driver "sqlite" 仅用于本地开发，此时只读取 SQLitePath。
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Name       string `mapstructure:"name"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	SSLMode    string `mapstructure:"sslmode"`
	LogSQL     bool   `mapstructure:"log_sql"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 包含 JWT 密钥与令牌有效期。
type AuthConfig struct {
	PrivateKeyPEM string        `mapstructure:"private_key_pem"`
	PublicKeyPEM  string        `mapstructure:"public_key_pem"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	CookieDomain  string        `mapstructure:"cookie_domain"`

	// 登录限流：每 IP+邮箱 每小时次数，以及连续失败锁定。
	LoginRateLimit     int           `mapstructure:"login_rate_limit"`
	LoginLockThreshold int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL       time.Duration `mapstructure:"login_lock_ttl"`
}

// GenerationConfig 描述 AI 图像生成服务以及轮询与限流参数。
type GenerationConfig struct {
	ProviderURL   string        `mapstructure:"provider_url"`
	ProviderToken string        `mapstructure:"provider_token"`
	Model         string        `mapstructure:"model"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     int           `mapstructure:"rate_limit"`
	RateWindow    time.Duration `mapstructure:"rate_window"`
	PreviewTTL    time.Duration `mapstructure:"preview_ttl"`
}

// WorkerConfig 控制 asynq worker 并发。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.clamd_addr", "")
	v.SetDefault("api.max_upload_bytes", 10*1024*1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "poletrack.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "poletrack")
	v.SetDefault("database.user", "poletrack")
	v.SetDefault("database.password", "poletrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_sql", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "moves")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.poll_interval", 2*time.Second)
	v.SetDefault("generation.timeout", 120*time.Second)
	v.SetDefault("generation.rate_limit", 10)
	v.SetDefault("generation.rate_window", time.Hour)
	v.SetDefault("generation.preview_ttl", time.Hour)
	v.SetDefault("worker.concurrency", 5)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                  "API_PORT",
		"api.clamd_addr":            "CLAMD_ADDR",
		"api.max_upload_bytes":      "MAX_UPLOAD_BYTES",
		"log.level":                 "LOG_LEVEL",
		"log.format":                "LOG_FORMAT",
		"database.driver":           "DATABASE_DRIVER",
		"database.sqlite_path":      "DATABASE_SQLITE_PATH",
		"database.host":             "DATABASE_HOST",
		"database.port":             "DATABASE_PORT",
		"database.name":             "POSTGRES_DB",
		"database.user":             "POSTGRES_USER",
		"database.password":         "POSTGRES_PASSWORD",
		"database.sslmode":          "DATABASE_SSLMODE",
		"database.log_sql":          "DATABASE_LOG_SQL",
		"redis.host":                "REDIS_HOST",
		"redis.port":                "REDIS_PORT",
		"redis.password":            "REDIS_PASSWORD",
		"redis.db":                  "REDIS_DB",
		"minio.endpoint":            "MINIO_ENDPOINT",
		"minio.public_endpoint":     "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":       "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":   "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":             "MINIO_USE_SSL",
		"minio.bucket":              "MINIO_BUCKET",
		"minio.region":              "MINIO_REGION",
		"minio.bucket_lookup":       "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":  "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_pem":      "JWT_PRIVATE_KEY",
		"auth.public_key_pem":       "JWT_PUBLIC_KEY",
		"auth.access_ttl":           "JWT_ACCESS_TTL",
		"auth.refresh_ttl":          "JWT_REFRESH_TTL",
		"auth.cookie_domain":        "COOKIE_DOMAIN",
		"auth.login_rate_limit":     "LOGIN_RATE_LIMIT",
		"auth.login_lock_threshold": "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":       "LOGIN_LOCK_TTL",
		"generation.provider_url":   "GENERATION_PROVIDER_URL",
		"generation.provider_token": "GENERATION_PROVIDER_TOKEN",
		"generation.model":          "GENERATION_MODEL",
		"generation.poll_interval":  "GENERATION_POLL_INTERVAL",
		"generation.timeout":        "GENERATION_TIMEOUT",
		"generation.rate_limit":     "GENERATION_RATE_LIMIT",
		"generation.rate_window":    "GENERATION_RATE_WINDOW",
		"generation.preview_ttl":    "GENERATION_PREVIEW_TTL",
		"worker.concurrency":        "WORKER_CONCURRENCY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.PublicEndpoint == "" {
		return errors.New("minio public endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.PrivateKeyPEM == "" || cfg.Auth.PublicKeyPEM == "" {
		return errors.New("jwt private and public keys are required")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 {
		return errors.New("jwt token ttls must be positive")
	}
	if cfg.Auth.LoginRateLimit <= 0 || cfg.Auth.LoginLockThreshold <= 0 || cfg.Auth.LoginLockTTL <= 0 {
		return errors.New("login rate limit settings must be positive")
	}
	if cfg.Generation.PollInterval <= 0 {
		return errors.New("generation poll interval must be positive")
	}
	if cfg.Generation.Timeout <= 0 {
		return errors.New("generation timeout must be positive")
	}
	if cfg.Generation.RateLimit <= 0 || cfg.Generation.RateWindow <= 0 {
		return errors.New("generation rate limit and window must be positive")
	}
	if cfg.Generation.PreviewTTL <= 0 {
		return errors.New("generation preview ttl must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	switch strings.ToLower(d.Driver) {
	case "sqlite":
		if d.SQLitePath == "" {
			return errors.New("database sqlite path is required")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if d.Name == "" {
		return errors.New("database name is required")
	}
	if d.User == "" {
		return errors.New("database user is required")
	}
	if d.Password == "" {
		return errors.New("database password is required")
	}
	if d.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	return nil
}
