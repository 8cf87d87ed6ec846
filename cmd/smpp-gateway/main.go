package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thrillee/smppgateway/internal/auth"
	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	apihandlers "github.com/thrillee/smppgateway/internal/managerapi/handlers"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/mno"
	"github.com/thrillee/smppgateway/internal/notification"
	"github.com/thrillee/smppgateway/internal/sms"
)

const shutdownTimeout = 20 * time.Second

func main() {
	hashKey := flag.Bool("hash-api-key", false, "read an API key from stdin, print its bcrypt hash for API_KEY_HASH and exit")
	flag.Parse()
	if *hashKey {
		if err := printAPIKeyHash(); err != nil {
			log.Fatalf("hash-api-key: %v", err)
		}
		return
	}

	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := setupLogging(cfg.LogLevel)

	// --- Database ---
	slog.Info("Connecting to database...")
	dbpool, err := pgxpool.New(appCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(appCtx); err != nil {
		slog.Error("Failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Database connection pool established")
	store := database.NewStore(dbpool)

	if cfg.Bootstrap.Enabled() {
		if err := bootstrapConfiguration(appCtx, store, cfg.Bootstrap); err != nil {
			slog.Error("Failed to seed SMPP configuration", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// --- Core Services ---
	slog.Info("Initializing services...")
	appMetrics := metrics.New()
	reconciler := sms.NewReconciler(store, appMetrics)
	sessionPool := mno.NewPool(store, mno.PoolConfig{
		Session:          cfg.SessionConfig,
		ConnectionLogCap: cfg.RetentionConfig.ConnectionLogCap,
		Metrics:          appMetrics,
	}, reconciler.HandleDeliver)

	processor := sms.NewProcessor(sms.ProcessorDependencies{
		Store:        store,
		Sessions:     sessionPool,
		Reconciler:   reconciler,
		Notifier:     notification.NewLogNotifier(logger),
		Metrics:      appMetrics,
		Queue:        cfg.QueueConfig,
		NotifyTarget: cfg.OperatorNotifyTarget,
	})
	workerManager := sms.NewManager(store, processor, sessionPool.HealthCheck, appMetrics, cfg.WorkerConfig, cfg.RetentionConfig)

	// --- Management API ---
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	apihandlers.SetupRoutes(router, apihandlers.Dependencies{
		Store:    store,
		Messages: processor,
		Sessions: sessionPool,
		Ping:     dbpool.Ping,
		Metrics:  appMetrics.Handler(),
		APIKeys:  auth.NewKeyVerifier(cfg.ManagerAPI.KeyHash),
	})
	if cfg.ManagerAPI.KeyHash == "" {
		slog.Warn("API_KEY_HASH is not set, the management API is unauthenticated")
	}
	srv := &http.Server{
		Addr:         cfg.ManagerAPI.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ManagerAPI.ReadTimeout,
		WriteTimeout: cfg.ManagerAPI.WriteTimeout,
		IdleTimeout:  cfg.ManagerAPI.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// --- Start Components ---
	slog.Info("Starting application components...", slog.String("worker_id", processor.WorkerID()))
	workerManager.Start(appCtx)

	go func() {
		slog.Info("Starting Management API Server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Management API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	// --- Wait for Shutdown Signal ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first, then let in-flight queue work finish and
	// release its claims before the sessions go away.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during Management API shutdown", slog.Any("error", err))
	}
	workerManager.Wait()
	slog.Info("Worker loops stopped.")

	if err := sessionPool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during SMPP session shutdown", slog.Any("error", err))
	}
	slog.Info("Application gracefully stopped.")
}

func printAPIKeyHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading key: %w", err)
	}
	hash, err := auth.HashAPIKey(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func setupLogging(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if level == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	logger := slog.New(logging.NewContextHandler(slog.NewJSONHandler(os.Stdout, opts)))
	slog.SetDefault(logger)
	slog.Info("Logging initialized", "level", logLevel.String())
	return logger
}

// bootstrapConfiguration seeds the SMPP configuration given in the
// environment. It becomes the default only when no default exists yet.
func bootstrapConfiguration(ctx context.Context, store database.Store, b config.BootstrapConfig) error {
	c := database.Configuration{
		Name:                    b.Name,
		Host:                    b.Host,
		Port:                    int32(b.Port),
		SystemID:                b.SystemID,
		Password:                b.Password,
		SystemType:              b.SystemType,
		InterfaceVersion:        0x34,
		BindType:                b.BindType,
		ConnectionTimeoutSecs:   int32(b.ConnectionTimeout / time.Second),
		EnquireLinkIntervalSecs: int32(b.EnquireLinkInterval / time.Second),
		IsActive:                true,
	}
	if b.DefaultSenderID != "" {
		c.DefaultSenderID = &b.DefaultSenderID
	}
	c = mno.WithDefaults(c)
	if err := mno.ValidateConfiguration(c); err != nil {
		return err
	}

	return store.ExecTx(ctx, func(q database.Querier) error {
		def, err := q.GetDefaultConfiguration(ctx)
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.IsDefault = true
		case err != nil:
			return fmt.Errorf("loading default configuration: %w", err)
		default:
			c.IsDefault = def.Name == c.Name
		}
		_, err = q.UpsertConfiguration(ctx, database.UpsertConfigurationParams{
			Name:                    c.Name,
			Host:                    c.Host,
			Port:                    c.Port,
			SystemID:                c.SystemID,
			Password:                c.Password,
			SystemType:              c.SystemType,
			InterfaceVersion:        c.InterfaceVersion,
			BindType:                c.BindType,
			DefaultSenderID:         c.DefaultSenderID,
			ConnectionTimeoutSecs:   c.ConnectionTimeoutSecs,
			EnquireLinkIntervalSecs: c.EnquireLinkIntervalSecs,
			IsActive:                c.IsActive,
			IsDefault:               c.IsDefault,
		})
		if err != nil {
			return fmt.Errorf("seeding configuration %q: %w", c.Name, err)
		}
		slog.InfoContext(logging.ContextWithConfigName(ctx, c.Name), "SMPP configuration seeded from environment",
			slog.Bool("default", c.IsDefault))
		return nil
	})
}
