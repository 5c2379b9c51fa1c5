package cfg

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Secret wraps sensitive config values so they never land in logs by accident.
type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

type Cfg struct {
	Port        string
	Environment string
	LogLevel    string

	DatabasePath   string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration

	RedisURL      string
	RedisTLS      bool
	RedisUsername string
	RedisPassword Secret
	RedisTimeout  time.Duration

	UploadDir          string
	MaxFileSize        int64
	DefaultExpiry      time.Duration
	AllowedMimeTypes   []string
	StorageProvider    string
	DualWriteLocal     bool
	S3Endpoint         string
	S3Region           string
	S3Bucket           string
	S3AccessKey        string
	S3SecretKey        Secret
	S3ForcePathStyle   bool
	SignedURLTTL       time.Duration
	FrontendURL        string
	JWTSecret          Secret
	JWTSecretFromStore bool
	JWTTTL             time.Duration

	LRUCacheSize      int
	Argon2Time        uint32
	Argon2Memory      uint32
	Argon2Parallelism uint8
	HasherWorkerCount int

	RateLimit      RateLimitCfg
	ReaperInterval time.Duration
	BurnQueueSize  int
	ContextTimeout time.Duration

	TrustedProxies []string
	AllowedOrigins []string
	MetricsUser    string
	MetricsPass    Secret
}

type RateLimitCfg struct {
	RPM   int
	Burst int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "linkvault.db")

	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.UploadDir = getEnv("UPLOAD_DIR", "./uploads")
	c.MaxFileSize, err = getInt64("MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	defMins, err := getInt("DEFAULT_EXPIRY_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	c.DefaultExpiry = time.Duration(defMins) * time.Minute
	c.AllowedMimeTypes = getSlice("ALLOWED_MIME_TYPES", []string{})
	c.StorageProvider = getEnv("STORAGE_PROVIDER", ProviderLocal)
	c.DualWriteLocal = getEnv("STORE_DUAL_WRITE_LOCAL", "true") == "true"
	c.S3Endpoint = getEnv("S3_ENDPOINT", "")
	c.S3Region = getEnv("S3_REGION", "us-east-1")
	c.S3Bucket = getEnv("S3_BUCKET", "")
	c.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	c.S3SecretKey = NewSecret(getEnv("S3_SECRET_KEY", ""))
	c.S3ForcePathStyle = getEnv("S3_FORCE_PATH_STYLE", "false") == "true"
	c.SignedURLTTL, err = getDuration("SIGNED_URL_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	c.FrontendURL = getEnv("FRONTEND_URL", "")
	c.JWTSecret = NewSecret(getEnv("JWT_SECRET", ""))
	c.JWTSecretFromStore = getEnv("JWT_SECRET_FROM_STORE", "false") == "true"
	c.JWTTTL, err = getDuration("JWT_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.Argon2Time, err = getUint32("ARGON2_TIME", 4)
	if err != nil {
		return nil, err
	}
	c.Argon2Memory, err = getUint32("ARGON2_MEMORY", 64*1024)
	if err != nil {
		return nil, err
	}
	p, err := getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	c.HasherWorkerCount, err = getInt("HASHER_WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}

	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, err
	}
	c.ReaperInterval, err = getDuration("REAPER_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, err
	}
	c.BurnQueueSize, err = getInt("BURN_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("MAX_FILE_SIZE must be positive")
	}
	if c.MaxFileSize > 100*1024*1024 {
		return errors.New("MAX_FILE_SIZE cannot exceed 100MB")
	}
	if c.DefaultExpiry < time.Minute {
		return errors.New("DEFAULT_EXPIRY_MINUTES must be at least 1")
	}
	switch c.StorageProvider {
	case ProviderLocal:
	case ProviderS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_PROVIDER=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_PROVIDER %q", c.StorageProvider)
	}
	if c.SignedURLTTL < time.Minute {
		return errors.New("SIGNED_URL_TTL must be at least 1 minute")
	}
	if c.FrontendURL != "" {
		if _, err := url.Parse(c.FrontendURL); err != nil {
			return fmt.Errorf("invalid FRONTEND_URL: %w", err)
		}
	}
	if !c.JWTSecretFromStore {
		if c.JWTSecret.Value() == "" {
			return errors.New("JWT_SECRET is required if JWT_SECRET_FROM_STORE is false")
		}
		if len(c.JWTSecret.Value()) < 32 {
			return errors.New("JWT_SECRET must be at least 32 bytes")
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.Argon2Time < 1 {
		return errors.New("ARGON2_TIME must be >= 1")
	}
	if c.Argon2Memory < 8*1024 {
		return errors.New("ARGON2_MEMORY must be >= 8192 (8MB)")
	}
	if c.Argon2Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.ReaperInterval < 10*time.Second {
		return errors.New("REAPER_INTERVAL must be at least 10s")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.S3SecretKey.Wipe()
	c.JWTSecret.Wipe()
	c.MetricsPass.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getUint32(key string, fallback uint32) (uint32, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(v), nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
