package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/zzxtbeta/rag-demo/db"
	"github.com/zzxtbeta/rag-demo/internal/capabilities"
	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
	"github.com/zzxtbeta/rag-demo/internal/handler"
	"github.com/zzxtbeta/rag-demo/internal/handler/sse"
	"github.com/zzxtbeta/rag-demo/internal/middleware"
	"github.com/zzxtbeta/rag-demo/internal/repository/memory"
	"github.com/zzxtbeta/rag-demo/internal/repository/postgres"
	pgchat "github.com/zzxtbeta/rag-demo/internal/repository/postgres/chat"
	pgeventlog "github.com/zzxtbeta/rag-demo/internal/repository/postgres/eventlog"
	"github.com/zzxtbeta/rag-demo/internal/service/gateway"
	"github.com/zzxtbeta/rag-demo/internal/service/history"
	llmproviders "github.com/zzxtbeta/rag-demo/internal/service/llm/providers"
	"github.com/zzxtbeta/rag-demo/internal/service/publisher"
	"github.com/zzxtbeta/rag-demo/internal/service/workflow"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"event_backend", cfg.EventBackend,
		"table_prefix", cfg.TablePrefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	retention := stream.RetentionPolicy{
		MaxEntries: cfg.RetentionMaxEntries,
		MaxAge:     cfg.RetentionMaxAge,
	}

	var eventLog repositories.EventLog
	var turnStore repositories.TurnStore
	var txManager repositories.TransactionManager

	switch cfg.EventBackend {
	case "postgres":
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		logger.Info("database connected", "max_conns", 25, "min_conns", 5)

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}

		notifier := pgeventlog.NewNotifier(repoConfig)
		group.Go(func() error {
			return notifier.Run(ctx)
		})

		eventLog = pgeventlog.New(repoConfig, retention, notifier)
		turnStore = pgchat.NewTurnStore(repoConfig)
		txManager = postgres.NewTransactionManager(pool)

	case "memory":
		logger.Warn("using in-memory stores - state is lost on restart")
		eventLog = memory.NewEventLog(retention)
		turnStore = memory.NewTurnStore()
		txManager = memory.NewTransactionManager()

	default:
		log.Fatalf("Unknown event backend: %s", cfg.EventBackend)
	}

	providerRegistry, err := llmproviders.Setup(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM providers: %v", err)
	}

	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}

	pub := publisher.New(eventLog, cfg.PublishTimeout, logger)
	gw := gateway.New(eventLog, logger)
	reconciler := history.NewReconciler(logger)
	engine := workflow.NewEngine(turnStore, pub, providerRegistry, cfg, logger)

	threadHandler := handler.NewThreadHandler(turnStore, eventLog, txManager, reconciler, engine, capabilityRegistry, logger)
	streamHandler := handler.NewStreamHandler(gw, sse.DefaultConfig(), logger)
	modelsHandler := handler.NewModelsHandler(capabilityRegistry, logger)

	logger.Info("services initialized")

	// HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /api/models", modelsHandler.ListModels)

	mux.HandleFunc("POST /api/threads/{id}/messages", threadHandler.PostMessage)
	mux.HandleFunc("GET /api/threads/{id}/history", threadHandler.GetHistory)
	mux.HandleFunc("PUT /api/threads/{id}/retention", threadHandler.UpdateRetention)
	mux.HandleFunc("DELETE /api/threads/{id}", threadHandler.DeleteThread)

	mux.HandleFunc("GET /api/threads/{id}/stream", streamHandler.Stream)

	// Middleware chain: CORS → Recovery → Routes
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	group.Go(func() error {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("server stopped")
}
