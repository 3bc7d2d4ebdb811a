package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Artifact store drivers.
const (
	ArtifactDriverLocal = "local"
	ArtifactDriverS3    = "s3"
)

// Notifier drivers.
const (
	NotifierDriverLog   = "log"
	NotifierDriverRedis = "redis"
)

type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	MigrationsDir string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Artifacts ArtifactConfig
	Rollout   RolloutConfig
	Safety    SafetyConfig
	Notifier  NotifierConfig
	Versions  VersionCatalogConfig
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

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ArtifactConfig selects and tunes the artifact store that receives package payloads.
type ArtifactConfig struct {
	Driver            string
	LocalDir          string
	PublicBaseURL     string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CacheControl      string
	MaxPayloadBytes   int64
	BreakerMaxFailure uint32
	BreakerTimeout    time.Duration
	S3                S3Config
}

// S3Config configures the S3 artifact store.
type S3Config struct {
	Bucket        string
	Region        string
	Prefix        string
	PublicBaseURL string
}

// RolloutConfig governs the gradual ramp and the optional in-process advance trigger.
type RolloutConfig struct {
	StepPercent  int
	StepInterval time.Duration
	TickInterval time.Duration
	Workers      int
}

// SafetyConfig tunes user impact classification for rollback plans.
type SafetyConfig struct {
	MediumImpactThreshold int64
	HighImpactThreshold   int64
	// Telemetry breaker guarding installation counts.
	BreakerMaxFailure uint32
	BreakerTimeout    time.Duration
}

// NotifierConfig selects the update notifier adapter.
type NotifierConfig struct {
	Driver  string
	Channel string
}

// VersionCatalogConfig controls caching of catalogue listings.
type VersionCatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.MigrationsDir = v.GetString("MIGRATIONS_DIR")

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

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxPayload := v.GetInt64("ARTIFACT_MAX_PAYLOAD_BYTES")
	if maxPayload <= 0 {
		maxPayload = 512 * 1024 * 1024
	}
	cfg.Artifacts = ArtifactConfig{
		Driver:            strings.ToLower(v.GetString("ARTIFACT_STORE_DRIVER")),
		LocalDir:          v.GetString("ARTIFACT_LOCAL_DIR"),
		PublicBaseURL:     strings.TrimRight(v.GetString("ARTIFACT_PUBLIC_BASE_URL"), "/"),
		SignedURLSecret:   v.GetString("ARTIFACT_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("ARTIFACT_SIGNED_URL_TTL"), 15*time.Minute),
		CacheControl:      v.GetString("ARTIFACT_CACHE_CONTROL"),
		MaxPayloadBytes:   maxPayload,
		BreakerMaxFailure: uint32(v.GetInt("ARTIFACT_BREAKER_MAX_FAILURES")),
		BreakerTimeout:    parseDuration(v.GetString("ARTIFACT_BREAKER_TIMEOUT"), 30*time.Second),
		S3: S3Config{
			Bucket:        v.GetString("S3_BUCKET"),
			Region:        v.GetString("S3_REGION"),
			Prefix:        strings.Trim(v.GetString("S3_PREFIX"), "/"),
			PublicBaseURL: strings.TrimRight(v.GetString("S3_PUBLIC_BASE_URL"), "/"),
		},
	}

	cfg.Rollout = RolloutConfig{
		StepPercent:  v.GetInt("ROLLOUT_STEP_PERCENT"),
		StepInterval: parseDuration(v.GetString("ROLLOUT_STEP_INTERVAL"), time.Hour),
		TickInterval: parseDuration(v.GetString("ROLLOUT_TICK_INTERVAL"), 0),
		Workers:      v.GetInt("ROLLOUT_WORKERS"),
	}

	cfg.Safety = SafetyConfig{
		MediumImpactThreshold: v.GetInt64("SAFETY_IMPACT_MEDIUM_THRESHOLD"),
		HighImpactThreshold:   v.GetInt64("SAFETY_IMPACT_HIGH_THRESHOLD"),
		BreakerMaxFailure:     uint32(v.GetInt("TELEMETRY_BREAKER_MAX_FAILURES")),
		BreakerTimeout:        parseDuration(v.GetString("TELEMETRY_BREAKER_TIMEOUT"), 30*time.Second),
	}

	cfg.Notifier = NotifierConfig{
		Driver:  strings.ToLower(v.GetString("NOTIFIER_DRIVER")),
		Channel: v.GetString("NOTIFIER_CHANNEL"),
	}

	cfg.Versions = VersionCatalogConfig{
		CacheEnabled: v.GetBool("ENABLE_VERSION_CACHE"),
		CacheTTL:     parseDuration(v.GetString("VERSION_CACHE_TTL"), 5*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "release_distribution")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ARTIFACT_STORE_DRIVER", ArtifactDriverLocal)
	v.SetDefault("ARTIFACT_LOCAL_DIR", "./artifacts")
	v.SetDefault("ARTIFACT_PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("ARTIFACT_SIGNED_URL_SECRET", "dev_artifacts_secret")
	v.SetDefault("ARTIFACT_SIGNED_URL_TTL", "15m")
	v.SetDefault("ARTIFACT_CACHE_CONTROL", "public, max-age=31536000, immutable")
	v.SetDefault("ARTIFACT_MAX_PAYLOAD_BYTES", 512*1024*1024)
	v.SetDefault("ARTIFACT_BREAKER_MAX_FAILURES", 5)
	v.SetDefault("ARTIFACT_BREAKER_TIMEOUT", "30s")
	v.SetDefault("TELEMETRY_BREAKER_MAX_FAILURES", 5)
	v.SetDefault("TELEMETRY_BREAKER_TIMEOUT", "30s")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "packages")
	v.SetDefault("S3_PUBLIC_BASE_URL", "")

	v.SetDefault("ROLLOUT_STEP_PERCENT", 10)
	v.SetDefault("ROLLOUT_STEP_INTERVAL", "1h")
	v.SetDefault("ROLLOUT_TICK_INTERVAL", "0")
	v.SetDefault("ROLLOUT_WORKERS", 2)

	v.SetDefault("SAFETY_IMPACT_MEDIUM_THRESHOLD", 100)
	v.SetDefault("SAFETY_IMPACT_HIGH_THRESHOLD", 1000)

	v.SetDefault("NOTIFIER_DRIVER", NotifierDriverLog)
	v.SetDefault("NOTIFIER_CHANNEL", "release:notifications")

	v.SetDefault("ENABLE_VERSION_CACHE", true)
	v.SetDefault("VERSION_CACHE_TTL", "5m")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
