package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/reservation-notifier/internal/confirm"
	"github.com/example/reservation-notifier/internal/templates"
	"github.com/example/reservation-notifier/internal/watcher"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendKafka    = "kafka"
)

// ServerConfig captures all tunable parameters for the API and watcher
// processes. Values are primarily loaded from environment variables with
// defaults that let the binaries run locally on in-memory backends.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StoreBackend string
	FeedBackend  string

	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	MailerSendAPIKey string
	MailFromEmail    string
	MailFromName     string
	MailSendTimeout  time.Duration

	// TemplateOverrides replaces default template ids, keyed by role and transition.
	TemplateOverrides map[templates.Key]string
	Locale            string
	Timezone          string

	WatcherEnabled      bool
	ResubscribeDelay    time.Duration
	WatcherNotifyDriver bool

	ConfirmFailurePolicy confirm.FailurePolicy

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         30 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		StoreBackend:         BackendMemory,
		RedisChannel:         "reservation-changes",
		KafkaTopic:           "reservation-changes",
		KafkaGroup:           "reservation-notifier",
		MailFromEmail:        "notifications@driverpro.example",
		MailFromName:         "DriverPro Notifications",
		TemplateOverrides:    map[templates.Key]string{},
		Locale:               "fr-FR",
		Timezone:             "Europe/Paris",
		WatcherEnabled:       true,
		ResubscribeDelay:     watcher.DefaultResubscribeDelay,
		ConfirmFailurePolicy: confirm.PolicyReport,
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setLowerFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	cfg.FeedBackend = cfg.StoreBackend
	setLowerFromEnv(&cfg.FeedBackend, "FEED_BACKEND")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisChannel, "REDIS_CHANNEL")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.MailerSendAPIKey = strings.TrimSpace(os.Getenv("MAILERSEND_API_KEY"))
	setStringFromEnv(&cfg.MailFromEmail, "MAIL_FROM_EMAIL")
	setStringFromEnv(&cfg.MailFromName, "MAIL_FROM_NAME")
	setDurationFromEnv(&cfg.MailSendTimeout, "MAIL_SEND_TIMEOUT", &errs)

	for _, key := range templates.Keys() {
		env := "TEMPLATE_" + strings.ToUpper(key.String())
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			cfg.TemplateOverrides[key] = v
		}
	}
	setStringFromEnv(&cfg.Locale, "NOTIFY_LOCALE")
	setStringFromEnv(&cfg.Timezone, "NOTIFY_TIMEZONE")

	setBoolFromEnv(&cfg.WatcherEnabled, "WATCHER_ENABLED", &errs)
	setDurationFromEnv(&cfg.ResubscribeDelay, "WATCHER_RESUBSCRIBE_DELAY", &errs)
	setBoolFromEnv(&cfg.WatcherNotifyDriver, "WATCHER_NOTIFY_DRIVER", &errs)

	if v := os.Getenv("CONFIRM_NOTIFY_FAILURE"); v != "" {
		p, err := confirm.ParsePolicy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid CONFIRM_NOTIFY_FAILURE: %w", err))
		} else {
			cfg.ConfirmFailurePolicy = p
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis (got %q)", c.StoreBackend))
	}
	switch c.FeedBackend {
	case BackendMemory, BackendPostgres, BackendRedis, BackendKafka:
	default:
		errs = append(errs, fmt.Errorf("FEED_BACKEND must be one of memory, postgres, redis, kafka (got %q)", c.FeedBackend))
	}
	if c.FeedBackend == BackendMemory && c.StoreBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("FEED_BACKEND=memory only observes STORE_BACKEND=memory"))
	}
	if c.FeedBackend == BackendPostgres && c.StoreBackend != BackendPostgres {
		errs = append(errs, fmt.Errorf("FEED_BACKEND=postgres only observes STORE_BACKEND=postgres"))
	}
	if (c.StoreBackend == BackendPostgres || c.FeedBackend == BackendPostgres) && c.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required for the postgres backend"))
	}
	if (c.StoreBackend == BackendRedis || c.FeedBackend == BackendRedis) && c.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required for the redis backend"))
	}
	if c.FeedBackend == BackendKafka && len(c.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for the kafka feed"))
	}
	if c.ResubscribeDelay <= 0 {
		errs = append(errs, fmt.Errorf("WATCHER_RESUBSCRIBE_DELAY must be > 0"))
	}
	if c.MailSendTimeout < 0 {
		errs = append(errs, fmt.Errorf("MAIL_SEND_TIMEOUT must be >= 0"))
	}
	if c.MailFromEmail == "" {
		errs = append(errs, fmt.Errorf("MAIL_FROM_EMAIL must not be empty"))
	}
	return errs
}

// Templates returns the registry with defaults and any configured overrides.
func (c ServerConfig) Templates() *templates.Registry {
	return templates.Default(c.TemplateOverrides)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setLowerFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = strings.ToLower(v)
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
