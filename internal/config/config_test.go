package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-notifier/internal/confirm"
	"github.com/example/reservation-notifier/internal/models"
	"github.com/example/reservation-notifier/internal/templates"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.FeedBackend)
	assert.Equal(t, 5*time.Second, cfg.ResubscribeDelay)
	assert.Equal(t, confirm.PolicyReport, cfg.ConfirmFailurePolicy)
	assert.True(t, cfg.WatcherEnabled)
	assert.False(t, cfg.WatcherNotifyDriver)
	assert.Equal(t, "DriverPro Notifications", cfg.MailFromName)
	assert.Equal(t, "fr-FR", cfg.Locale)
	assert.Empty(t, cfg.TemplateOverrides)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("FEED_BACKEND", "kafka")
	t.Setenv("PG_DSN", "postgres://localhost/reservations?sslmode=disable")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MIGRATE", "true")
	t.Setenv("WATCHER_RESUBSCRIBE_DELAY", "250ms")
	t.Setenv("WATCHER_NOTIFY_DRIVER", "1")
	t.Setenv("CONFIRM_NOTIFY_FAILURE", "ignore")
	t.Setenv("TEMPLATE_DRIVER_CANCEL", "d-custom")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, BackendKafka, cfg.FeedBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, 250*time.Millisecond, cfg.ResubscribeDelay)
	assert.True(t, cfg.WatcherNotifyDriver)
	assert.Equal(t, confirm.PolicyIgnore, cfg.ConfirmFailurePolicy)
	assert.Equal(t, "debug", cfg.LogLevel)

	ref, ok := cfg.Templates().Resolve(models.RoleDriver, models.TransitionCancel)
	require.True(t, ok)
	assert.Equal(t, "d-custom", ref.ID)
	assert.Equal(t, "d-custom", cfg.TemplateOverrides[templates.Key{Role: models.RoleDriver, Transition: models.TransitionCancel}])
}

func TestHTTPAddrOverridesPort(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("WATCHER_ENABLED", "maybe")
	t.Setenv("CONFIRM_NOTIFY_FAILURE", "panic")
	t.Setenv("STORE_BACKEND", "redis")

	_, err := LoadServerConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "HTTP_READ_TIMEOUT")
	assert.Contains(t, msg, "WATCHER_ENABLED")
	assert.Contains(t, msg, "CONFIRM_NOTIFY_FAILURE")
	assert.Contains(t, msg, "REDIS_ADDR is required")
}

func TestMemoryFeedRequiresMemoryStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("FEED_BACKEND", "memory")

	_, err := LoadServerConfig()
	assert.ErrorContains(t, err, "FEED_BACKEND=memory")
}

func TestNonPositiveResubscribeDelay(t *testing.T) {
	t.Setenv("WATCHER_RESUBSCRIBE_DELAY", "0s")

	_, err := LoadServerConfig()
	assert.ErrorContains(t, err, "WATCHER_RESUBSCRIBE_DELAY")
}
