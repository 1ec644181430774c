package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkwell-press/inkwell/internal/app"
	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/books"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/collaboration/session"
	"github.com/inkwell-press/inkwell/internal/comments"
	"github.com/inkwell-press/inkwell/internal/platform/cache"
	"github.com/inkwell-press/inkwell/internal/platform/db"
	"github.com/inkwell-press/inkwell/internal/presence"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
	"github.com/inkwell-press/inkwell/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "inkwell_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	broker := realtime.NewBroker(redisClient, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	collabRepo := collaboration.NewRepository(dbpool)
	collabService := collaboration.NewService(collabRepo, broker, logger)
	collabHandler := collaboration.NewHandler(logger, collabService)

	usersHandler := users.NewHandler(logger, users.NewRepository(dbpool))
	booksHandler := books.NewHandler(logger, books.NewRepository(dbpool), collabService)

	presenceRepo := presence.NewRepository(dbpool)
	presenceService := presence.NewService(presenceRepo, collabService, broker, logger)
	presenceHandler := presence.NewHandler(logger, presenceService)

	commentsRepo := comments.NewRepository(dbpool)
	commentsService := comments.NewService(commentsRepo, collabService, broker, logger)
	commentsHandler := comments.NewHandler(logger, commentsService)

	streamHandler := session.NewStreamHandler(collabService, broker, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		SessionManager:       sessionManager,
		CSRFManager:          csrfManager,
		Pool:                 dbpool,
		AuthHandler:          authHandler,
		UsersHandler:         usersHandler,
		BooksHandler:         booksHandler,
		CollaborationHandler: collabHandler,
		PresenceHandler:      presenceHandler,
		CommentsHandler:      commentsHandler,
		StreamHandler:        streamHandler,
	})

	// No WriteTimeout: it would sever long-lived SSE streams. Per-request
	// deadlines come from the router's timeout middleware.
	server := &http.Server{
		Addr:        cfg.AppAddr,
		Handler:     router,
		ReadTimeout: cfg.AppReadTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
