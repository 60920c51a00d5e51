package config

import (
	"fmt"
	"github.com/joho/godotenv"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret       string
	JwtTTL          time.Duration
	CaptchaTokenTTL time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Cloudflare
	CloudflareTurnstileSecretKey string
	CloudflareSiteVerifyURL      string

	// AI draft generation
	AIBaseURL        string
	AIApiKey         string
	AIModel          string
	AITimeout        time.Duration
	AIConnCacheTTL   time.Duration
	AIMaxInputLength int

	// Guest verification
	OtpCodeTTL      time.Duration
	OtpCodeLength   int
	OtpMaxAttempts  int
	SmsFromName     string
	SmsGatewayURL   string
	SmsGatewayToken string
	GuestSessionTTL time.Duration

	// MockServices short-circuits outbound SMS in development: codes are
	// captured in redis instead of dispatched.
	MockServices bool

	// AWS S3 (attachments)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	AttachmentBaseURL  string
	ImageMaxDimension  int
	ImageMaxSizeMB     int
	MaxAttachments     int

	// App Defaults
	AppName            string
	PasswordRegexp     string
	MinDescriptionLen  int
	DefaultSeriousness int
	MaxDraftAge        time.Duration

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CloudflareTurnstileSecretKey = getEnv("CLOUDFLARE_TURNSTILE_SECRET_KEY", "")
	cfg.CloudflareSiteVerifyURL = getEnv("CLOUDFLARE_SITEVERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	cfg.AIBaseURL = getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	cfg.AIApiKey = getEnv("AI_API_KEY", "")
	cfg.AIModel = getEnv("AI_MODEL", "gemini-2.0-flash")
	cfg.SmsFromName = getEnv("SMS_FROM_NAME", "Abeely")
	cfg.SmsGatewayURL = getEnv("SMS_GATEWAY_URL", "")
	cfg.SmsGatewayToken = getEnv("SMS_GATEWAY_TOKEN", "")
	cfg.MockServices = getEnv("MOCK_SERVICES", "false") == "true"
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AttachmentBaseURL = getEnv("ATTACHMENT_BASE_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Abeely")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	captchaTTLSeconds, err := strconv.ParseInt(getEnv("CAPTCHA_TOKEN_TTL", "1200"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_TOKEN_TTL: %w", err)
	}
	cfg.CaptchaTokenTTL = time.Duration(captchaTTLSeconds) * time.Second

	aiTimeoutSeconds, err := strconv.ParseInt(getEnv("AI_TIMEOUT_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_TIMEOUT_SECONDS: %w", err)
	}
	cfg.AITimeout = time.Duration(aiTimeoutSeconds) * time.Second

	aiConnCacheMinutes, err := strconv.ParseInt(getEnv("AI_CONN_CACHE_MINUTES", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_CONN_CACHE_MINUTES: %w", err)
	}
	cfg.AIConnCacheTTL = time.Duration(aiConnCacheMinutes) * time.Minute

	cfg.AIMaxInputLength, err = strconv.Atoi(getEnv("AI_MAX_INPUT_LENGTH", "4000"))
	if err != nil {
		return nil, fmt.Errorf("invalid AI_MAX_INPUT_LENGTH: %w", err)
	}

	otpTTLSeconds, err := strconv.ParseInt(getEnv("OTP_CODE_TTL_SECONDS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTP_CODE_TTL_SECONDS: %w", err)
	}
	cfg.OtpCodeTTL = time.Duration(otpTTLSeconds) * time.Second

	cfg.OtpCodeLength, err = strconv.Atoi(getEnv("OTP_CODE_LENGTH", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid OTP_CODE_LENGTH: %w", err)
	}

	cfg.OtpMaxAttempts, err = strconv.Atoi(getEnv("OTP_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid OTP_MAX_ATTEMPTS: %w", err)
	}

	guestSessionTTLSeconds, err := strconv.ParseInt(getEnv("GUEST_SESSION_TTL_SECONDS", "86400"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GUEST_SESSION_TTL_SECONDS: %w", err)
	}
	cfg.GuestSessionTTL = time.Duration(guestSessionTTLSeconds) * time.Second

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}

	cfg.ImageMaxSizeMB, err = strconv.Atoi(getEnv("IMAGE_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_SIZE_MB: %w", err)
	}

	cfg.MaxAttachments, err = strconv.Atoi(getEnv("MAX_ATTACHMENTS", "6"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ATTACHMENTS: %w", err)
	}

	cfg.MinDescriptionLen, err = strconv.Atoi(getEnv("MIN_DESCRIPTION_LEN", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_DESCRIPTION_LEN: %w", err)
	}

	cfg.DefaultSeriousness, err = strconv.Atoi(getEnv("DEFAULT_SERIOUSNESS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_SERIOUSNESS: %w", err)
	}

	maxDraftAgeSeconds, err := strconv.ParseInt(getEnv("MAX_DRAFT_AGE_SECONDS", "604800"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DRAFT_AGE_SECONDS: %w", err)
	}
	cfg.MaxDraftAge = time.Duration(maxDraftAgeSeconds) * time.Second

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
