package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/billing"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/locations"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/token"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("dispatch-server", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN unset, using in-memory store")
	}

	var cards dispatch.CardGateway
	if cfg.StripeAPIKey != "" {
		cards = payments.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("stripe gateway enabled")
	}

	var events dispatch.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic, cfg.KafkaLocationTopic)
		defer kp.Close()
		events = kp
		logger.Info("kafka publisher enabled", "brokers", cfg.KafkaBrokers)
	}

	var nearby httpapi.NearbyFinder
	if cfg.RedisAddr != "" {
		ls := locations.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisLocationKey)
		defer ls.Close()
		nearby = ls
		logger.Info("redis location mirror enabled", "addr", cfg.RedisAddr)
	}

	calc := earnings.NewCalculator(earnings.Config{
		ServiceFeePct:         cfg.ServiceFeePct,
		DefaultCommissionPct:  cfg.DefaultCommissionPct,
		SalariedCommissionPct: cfg.SalariedCommissionPct,
		SurchargeSharePct:     cfg.SurchargeSharePct,
		WaitingRatePerMinute:  cfg.WaitingRatePerMinute,
		FreeWaitingMinutes:    cfg.FreeWaitingMinutes,
	})

	machine := &lifecycle.Machine{Orders: store, Drivers: store, Calc: calc, Log: logger}
	processor := billing.NewProcessor(machine, store, store, calc, cards, logger)
	groups := broadcast.NewGroups(logger, cfg.DebounceWindow)
	tokens := token.NewBinder(groups.Alive)
	sessions := session.NewRegistry(store, logger, cfg.SessionTTL)

	engine := dispatch.NewEngine(machine, processor, billing.NewStopTracker(), tokens, sessions,
		groups, store, cards, events, logger, dispatch.Config{
			ImmediateExpiry: cfg.ImmediateExpiry,
			AdvanceExpiry:   cfg.AdvanceExpiry,
			SweepInterval:   cfg.SweepInterval,
			Currency:        cfg.Currency,
		})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go engine.RunExpiry(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewServer(engine, nearby, logger),
		// write timeout stays off: websocket connections outlive any
		// sane request deadline
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		logger.Error("migration file read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_init.sql")
}
