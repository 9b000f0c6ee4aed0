package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store and feed drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Store        StoreConfig
	Blob         BlobConfig
	Certificates CertificatesConfig
	Sync         SyncConfig
	SeedPath     string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the document store and the change feed backing live queries.
type StoreConfig struct {
	Driver          string
	FeedDriver      string
	FeedPrefix      string
	MaxTxAttempts   int
	ListenerBacklog int
}

// BlobConfig configures where uploaded media, certificates and reports are written.
type BlobConfig struct {
	Driver          string
	StorageDir      string
	BaseURL         string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	GCSBucket       string
	GCSCDNDomain    string
}

// CertificatesConfig controls certificate issuance on course completion.
type CertificatesConfig struct {
	Enabled bool
	Workers int
	Retries int
}

type SyncConfig struct {
	Optimistic bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}
	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Store = StoreConfig{
		Driver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		FeedDriver:      strings.ToLower(v.GetString("FEED_DRIVER")),
		FeedPrefix:      v.GetString("FEED_CHANNEL_PREFIX"),
		MaxTxAttempts:   v.GetInt("STORE_MAX_TX_ATTEMPTS"),
		ListenerBacklog: v.GetInt("STORE_LISTENER_BACKLOG"),
	}

	cfg.Blob = BlobConfig{
		Driver:          strings.ToLower(v.GetString("BLOB_DRIVER")),
		StorageDir:      v.GetString("BLOB_STORAGE_DIR"),
		BaseURL:         strings.TrimRight(v.GetString("BLOB_BASE_URL"), "/"),
		SignedURLSecret: v.GetString("BLOB_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("BLOB_SIGNED_URL_TTL"), 7*24*time.Hour),
		GCSBucket:       v.GetString("BLOB_GCS_BUCKET"),
		GCSCDNDomain:    v.GetString("BLOB_GCS_CDN_DOMAIN"),
	}

	cfg.Certificates = CertificatesConfig{
		Enabled: v.GetBool("ENABLE_CERTIFICATES"),
		Workers: v.GetInt("CERTIFICATE_WORKERS"),
		Retries: v.GetInt("CERTIFICATE_RETRIES"),
	}

	cfg.Sync = SyncConfig{Optimistic: v.GetBool("ORCHESTRATOR_OPTIMISTIC")}
	cfg.SeedPath = v.GetString("SEED_PATH")

	return cfg
}

// Validate rejects driver combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Store.FeedDriver {
	case DriverMemory, DriverRedis, DriverPostgres:
	default:
		return fmt.Errorf("unsupported FEED_DRIVER %q", c.Store.FeedDriver)
	}
	if c.Store.Driver == DriverMemory && c.Store.FeedDriver != DriverMemory {
		return fmt.Errorf("FEED_DRIVER %q requires STORE_DRIVER postgres", c.Store.FeedDriver)
	}
	switch c.Blob.Driver {
	case DriverLocal:
	case DriverGCS:
		if c.Blob.GCSBucket == "" {
			return errors.New("BLOB_GCS_BUCKET is required for the gcs blob driver")
		}
	default:
		return fmt.Errorf("unsupported BLOB_DRIVER %q", c.Blob.Driver)
	}
	if c.Env == EnvProduction && (c.JWT.Secret == "" || c.JWT.Secret == "dev_secret") {
		return errors.New("JWT_SECRET must be set in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("FEED_DRIVER", DriverMemory)
	v.SetDefault("FEED_CHANNEL_PREFIX", "coursesync")
	v.SetDefault("STORE_MAX_TX_ATTEMPTS", 3)
	v.SetDefault("STORE_LISTENER_BACKLOG", 16)

	v.SetDefault("BLOB_DRIVER", DriverLocal)
	v.SetDefault("BLOB_STORAGE_DIR", "./blobs")
	v.SetDefault("BLOB_BASE_URL", "http://localhost:8080/api/v1/files")
	v.SetDefault("BLOB_SIGNED_URL_SECRET", "dev_blob_secret")
	v.SetDefault("BLOB_SIGNED_URL_TTL", "168h")
	v.SetDefault("BLOB_GCS_BUCKET", "")
	v.SetDefault("BLOB_GCS_CDN_DOMAIN", "")

	v.SetDefault("ENABLE_CERTIFICATES", false)
	v.SetDefault("CERTIFICATE_WORKERS", 1)
	v.SetDefault("CERTIFICATE_RETRIES", 3)

	v.SetDefault("ORCHESTRATOR_OPTIMISTIC", true)
	v.SetDefault("SEED_PATH", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
