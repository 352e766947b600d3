package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DEFAULT_LIFETIME", "")
	t.Setenv("DELETE_RETRY_DELAYS", "")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_HOST", "")
	t.Setenv("REDIS_HOST", "")

	cfg := Load()
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, 12*time.Hour, cfg.DefaultLifetime)
	require.Len(t, cfg.DeleteRetryDelays, 5)
	require.Empty(t, cfg.RabbitMQURL)
	require.False(t, cfg.RedisEnabled())
	require.False(t, cfg.SMTPEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "MySQL")
	t.Setenv("DEFAULT_LIFETIME", "1h")
	t.Setenv("DELETE_RETRY_DELAYS", "1s, 2s")
	t.Setenv("DELETE_RETRY_MAX", "3")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_HOST", "rabbit")
	t.Setenv("RABBITMQ_USER", "drop")
	t.Setenv("RABBITMQ_PASSWORD", "p@ss")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com, ,oncall@example.com")

	cfg := Load()
	require.Equal(t, "mysql", cfg.DBDriver)
	require.Equal(t, time.Hour, cfg.DefaultLifetime)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.DeleteRetryDelays)
	require.Equal(t, 3, cfg.DeleteRetryMax)
	require.Equal(t, "amqp://drop:p@ss@rabbit:5672/%2F", cfg.RabbitMQURL)
	require.True(t, cfg.RedisEnabled())
	require.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.AlertEmailTo)
}

func TestGetEnvDurationListInvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_DELAYS", "1s,nope")
	def := []time.Duration{time.Minute}
	require.Equal(t, def, getEnvDurationList("SOME_DELAYS", def))
}

func TestLoadWorkerSettings(t *testing.T) {
	t.Setenv("RABBITMQ_PREFETCH", "")
	t.Setenv("REDRIVE_DELAY", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := Load()
	require.Equal(t, 1, cfg.RabbitMQPrefetch)
	require.Equal(t, 10*time.Minute, cfg.RedriveDelay)
	require.Empty(t, cfg.CORSOrigins)

	t.Setenv("RABBITMQ_PREFETCH", "4")
	t.Setenv("REDRIVE_DELAY", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://drop.example.com,https://admin.example.com")

	cfg = Load()
	require.Equal(t, 4, cfg.RabbitMQPrefetch)
	require.Equal(t, 30*time.Second, cfg.RedriveDelay)
	require.Equal(t, []string{"https://drop.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}
