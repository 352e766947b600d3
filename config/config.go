package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr        string
	WorkerMetricsAddr string
	JWTSecret         string
	CORSOrigins       []string

	DBDriver string
	DBPath   string
	DBHost   string
	DBPort   string
	DBUser   string
	DBPass   string
	DBName   string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	BlobBackend   string
	MinioHost     string
	MinioPort     string
	MinioUsername string
	MinioPassword string
	MinioUseSSL   bool
	BucketName    string

	RabbitMQURL      string
	RabbitMQPrefetch int
	RedriveDelay     time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPTLS      bool
	SMTPStartTLS bool
	AlertEmailTo []string

	DefaultLifetime   time.Duration
	MaxLifetime       time.Duration
	MaxHandleTTL      time.Duration
	DeleteRetryMax    int
	DeleteRetryDelays []time.Duration
	DeleteRate        float64
	DeleteBurst       int
	SweepInterval     time.Duration
	// ClaimLease zero derives the lease from the retry schedule.
	ClaimLease        time.Duration
	ListCacheTTL      time.Duration
	MaxUploadBytes    int64

	LogLevel  string
	LogPretty bool
}

// RedisEnabled reports whether a Redis host was configured.
func (c Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// SMTPEnabled reports whether alert mails can be sent.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPPort != "" && c.SMTPFrom != "" && len(c.AlertEmailTo) > 0
}

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// rabbitURL builds the AMQP URL from parts unless RABBITMQ_URL is set.
// An empty result disables event publishing.
func rabbitURL() string {
	if raw := getEnv("RABBITMQ_URL", ""); raw != "" {
		return raw
	}
	host := getEnv("RABBITMQ_HOST", "")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/%s",
		url.PathEscape(getEnv("RABBITMQ_USER", "guest")),
		url.PathEscape(getEnv("RABBITMQ_PASSWORD", "guest")),
		host,
		getEnv("RABBITMQ_PORT", "5672"),
		url.PathEscape(getEnv("RABBITMQ_VHOST", "/")),
	)
}

// Load reads .env (when present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	smtpPort := getEnv("SMTP_PORT", "")
	return Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8000"),
		WorkerMetricsAddr: getEnv("WORKER_METRICS_ADDR", ""),
		JWTSecret:         getEnv("JWT_SECRET", "l=ax+b"),
		CORSOrigins:       getEnvList("CORS_ALLOWED_ORIGINS", nil),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:   getEnv("DB_PATH", "/tmp/go-drop.db"),
		DBHost:   getEnv("DB_HOST", "localhost"),
		DBPort:   getEnv("DB_PORT", "3306"),
		DBUser:   getEnv("DB_USER", "root"),
		DBPass:   getEnv("DB_PASS", "root"),
		DBName:   getEnv("DB_NAME", "Go_Drop"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BlobBackend:   strings.ToLower(getEnv("BLOB_BACKEND", "minio")),
		MinioHost:     getEnv("MINIO_HOST", "localhost"),
		MinioPort:     getEnv("MINIO_PORT", "9000"),
		MinioUsername: getEnv("MINIO_USERNAME", "minioadmin"),
		MinioPassword: getEnv("MINIO_PASSWORD", "minioadmin"),
		MinioUseSSL:   getEnvBool("MINIO_USE_SSL", false),
		BucketName:    getEnv("BUCKET_NAME", "drop"),

		RabbitMQURL:      rabbitURL(),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 1),
		RedriveDelay:     getEnvDuration("REDRIVE_DELAY", 10*time.Minute),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     smtpPort,
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPass:     getEnv("SMTP_PASS", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPTLS:      getEnvBool("SMTP_TLS", smtpPort == "465"),
		SMTPStartTLS: getEnvBool("SMTP_STARTTLS", false),
		AlertEmailTo: getEnvList("ALERT_EMAIL_TO", nil),

		DefaultLifetime: getEnvDuration("DEFAULT_LIFETIME", 12*time.Hour),
		MaxLifetime:     getEnvDuration("MAX_LIFETIME", 7*24*time.Hour),
		MaxHandleTTL:    getEnvDuration("MAX_HANDLE_TTL", 7*24*time.Hour),
		DeleteRetryMax:  getEnvInt("DELETE_RETRY_MAX", 5),
		DeleteRetryDelays: getEnvDurationList(
			"DELETE_RETRY_DELAYS",
			[]time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, time.Minute, 2 * time.Minute},
		),
		DeleteRate:     getEnvFloat("DELETE_RATE", 20),
		DeleteBurst:    getEnvInt("DELETE_BURST", 10),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ClaimLease:     getEnvDuration("CLAIM_LEASE", 0),
		ListCacheTTL:   getEnvDuration("LIST_CACHE_TTL", 30*time.Second),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 2<<30),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}
