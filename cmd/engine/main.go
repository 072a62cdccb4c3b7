package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderbot_backend/internal/alerts"
	"orderbot_backend/internal/connection"
	"orderbot_backend/internal/dispatch"
	"orderbot_backend/internal/events"
	"orderbot_backend/internal/gateway"
	"orderbot_backend/internal/http/router"
	"orderbot_backend/internal/resilience"
	"orderbot_backend/internal/scheduler"
	"orderbot_backend/internal/sheets"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/validation"
	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/db"
	"orderbot_backend/platform/logger"
	"orderbot_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting engine", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	// Durable stores when a database is configured; in-memory otherwise.
	// Without a database, sent records and status history do not survive a
	// restart, so a restart may repeat messages outside their windows.
	var (
		pool         *pgxpool.Pool
		sentStore    suppression.Store     = suppression.NewMemoryStore()
		historyStore dispatch.HistoryStore = dispatch.NewMemoryHistoryStore()
	)
	if cfg.IsDatabaseEnabled() {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, "migrations")
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")

		if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
			p, err := db.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			pool = p
			return nil
		}); err != nil {
			log.Error("failed to connect to database", "error", err)
			panic("failed to connect to database: " + err.Error())
		}
		defer pool.Close()
		log.Info("database connection established")

		sentStore = suppression.NewPostgresStore(pool)
		historyStore = dispatch.NewPostgresHistoryStore(pool)
	} else {
		log.Warn("DATABASE_URL not configured; suppression state is in-memory only")
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// ========================================================================
	// Connection Layer
	// ========================================================================

	client := whatsapp.NewRelayClient(cfg, log)
	session := connection.NewSessionStore(cfg.GetSessionDir(), cfg.GetSessionMaxBytes(), log)

	backup, err := connection.NewBackup(cfg, session, log)
	if err != nil {
		log.Error("failed to initialize session backup", "error", err)
		panic("failed to initialize session backup: " + err.Error())
	}
	if backup != nil {
		if err := withRetry(ctx, log, "ensure backup bucket", 5, 2*time.Second, func() error {
			return backup.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure backup bucket", "error", err)
			panic("failed to ensure backup bucket: " + err.Error())
		}
		backup.RestoreIfMissing(ctx)
	}

	manager := connection.NewManager(client, session, cfg, eventBus, log)
	go manager.Run(ctx)

	monitor := connection.NewMonitor(manager, client, session, backup, cfg, log)
	go monitor.Run(ctx)

	// ========================================================================
	// Dispatch Layer
	// ========================================================================

	guard := suppression.NewGuard(sentStore, log)

	// One executor for the chat-client class: validation checks and
	// outbound sends share its breaker, and the manager gate fails both
	// fast while the connection is down.
	chatExec := resilience.NewExecutor("whatsapp", cfg, log).WithGate(manager.Gate)
	cache := validation.New(cfg, client, chatExec, manager.IsConnected, log)

	table, err := dispatch.NewStatusTable(cfg.GetStatusMapFile())
	if err != nil {
		log.Error("failed to load status table", "error", err)
		panic("failed to load status table: " + err.Error())
	}
	renderer, err := dispatch.NewTemplateRenderer()
	if err != nil {
		log.Error("failed to parse message templates", "error", err)
		panic("failed to parse message templates: " + err.Error())
	}

	worker := dispatch.NewWorker(client, manager, guard, chatExec, eventBus, log)
	go worker.Run(ctx)

	source := sheets.NewClient(cfg, cfg, log)

	delayer, closeScheduler := initScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	engine := dispatch.NewEngine(source, table, dispatch.NewTracker(historyStore), guard,
		cache, renderer, worker, delayer, eventBus, cfg, log)
	go engine.Run(ctx)

	schedulerWorker, err := scheduler.NewWorker(cfg, engine, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	go schedulerWorker.Run(ctx)

	// Operator email alerts (optional)
	mailer := alerts.NewMailer(cfg, log)
	mailer.Register(eventBus)

	// Connect at startup; a failure here is not fatal, the reconnect
	// schedule and the operator API both remain available.
	go func() {
		if err := manager.Initialize(ctx); err != nil {
			log.Warn("initial connect failed", "error", err.Error())
		}
	}()

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	val := validator.New()
	gatewayModule := gateway.NewModule(manager, engine, worker, guard, cache, val)
	httpEngine := router.New(cfg, log, gatewayModule)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- httpEngine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Stop(shutdownCtx)
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initScheduler(cfg config.SchedulerConfig, log *logger.Logger) (dispatch.Delayer, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; follow-ups and reminders disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
