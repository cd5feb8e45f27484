package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch engine
// process. Values are primarily loaded from environment variables with
// sane defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisLocationKey string

	KafkaBrokers       []string
	KafkaOrderTopic    string
	KafkaLocationTopic string

	PGDSN string

	StripeAPIKey string
	Currency     string

	// dispatch timing
	ImmediateExpiry time.Duration
	AdvanceExpiry   time.Duration
	SweepInterval   time.Duration
	DebounceWindow  time.Duration
	SessionTTL      time.Duration

	// commission configuration, admin-editable
	ServiceFeePct         float64
	DefaultCommissionPct  float64
	SalariedCommissionPct float64
	SurchargeSharePct     float64
	WaitingRatePerMinute  float64
	FreeWaitingMinutes    float64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisLocationKey: "driver_locations",

		KafkaOrderTopic:    "order-events",
		KafkaLocationTopic: "driver-locations",

		Currency: "eur",

		ImmediateExpiry: 20 * time.Minute,
		AdvanceExpiry:   7 * 24 * time.Hour,
		SweepInterval:   30 * time.Second,
		DebounceWindow:  3 * time.Second,
		SessionTTL:      24 * time.Hour,

		ServiceFeePct:         15,
		DefaultCommissionPct:  95,
		SalariedCommissionPct: 34,
		SurchargeSharePct:     85,
		WaitingRatePerMinute:  42,
		FreeWaitingMinutes:    5,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisLocationKey, "REDIS_LOCATION_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaOrderTopic, "KAFKA_ORDER_TOPIC")
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	setDurationFromEnv(&cfg.ImmediateExpiry, "ORDER_IMMEDIATE_EXPIRY", &errs)
	setDurationFromEnv(&cfg.AdvanceExpiry, "ORDER_ADVANCE_EXPIRY", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "ORDER_SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.DebounceWindow, "STATUS_DEBOUNCE_WINDOW", &errs)
	setDurationFromEnv(&cfg.SessionTTL, "SESSION_TTL", &errs)

	setFloatFromEnv(&cfg.ServiceFeePct, "SERVICE_FEE_PCT", &errs)
	setFloatFromEnv(&cfg.DefaultCommissionPct, "DEFAULT_COMMISSION_PCT", &errs)
	setFloatFromEnv(&cfg.SalariedCommissionPct, "SALARIED_COMMISSION_PCT", &errs)
	setFloatFromEnv(&cfg.SurchargeSharePct, "SURCHARGE_SHARE_PCT", &errs)
	setFloatFromEnv(&cfg.WaitingRatePerMinute, "WAITING_RATE_PER_MINUTE", &errs)
	setFloatFromEnv(&cfg.FreeWaitingMinutes, "FREE_WAITING_MINUTES", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.ImmediateExpiry <= 0 {
		errs = append(errs, fmt.Errorf("ORDER_IMMEDIATE_EXPIRY must be > 0"))
	}
	if cfg.DefaultCommissionPct <= 0 || cfg.DefaultCommissionPct > 100 {
		errs = append(errs, fmt.Errorf("DEFAULT_COMMISSION_PCT must be in (0,100]"))
	}
	if cfg.ServiceFeePct < 0 || cfg.ServiceFeePct >= 100 {
		errs = append(errs, fmt.Errorf("SERVICE_FEE_PCT must be in [0,100)"))
	}

	return cfg, errors.Join(errs...)
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

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
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
