package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-hazard-backend/internal/config"
	"civic-hazard-backend/internal/handlers"
	"civic-hazard-backend/internal/middleware"
	"civic-hazard-backend/internal/repository"
	"civic-hazard-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)
	handlers.SetHardened(cfg.Server.Hardened)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)
	voteRepo := repository.NewVoteRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	tokenRepo := repository.NewPushTokenRepository(db)

	// Initialize collaborator clients
	mediaService, err := services.NewMediaService(context.Background(), cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media service")
	}
	inferenceClient := services.NewInferenceClient(cfg.ML)
	notifier, err := services.NewNotifier(cfg.APNS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notifier")
	}
	feedHub := services.NewFeedHub()

	// Initialize services
	userService := services.NewUserService(userRepo, tokenRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	reportService := services.NewReportService(
		reportRepo,
		voteRepo,
		historyRepo,
		userRepo,
		tokenRepo,
		mediaService,
		inferenceClient,
		notifier,
		feedHub,
		cfg.ML.Timeout,
	)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	reportHandler := handlers.NewReportHandler(reportService)
	feedHandler := handlers.NewFeedHandler(feedHub, userService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", userHandler.Register)
		r.Post("/auth/login", userHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))

			r.Post("/push-tokens", userHandler.RegisterPushToken)
			r.Patch("/users/{id}/role", userHandler.UpdateRole)

			r.Post("/reports", reportHandler.Create)
			r.Get("/reports", reportHandler.List)
			r.Get("/reports/{id}", reportHandler.Get)
			r.Get("/reports/{id}/history", reportHandler.History)
			r.Patch("/reports/{id}", reportHandler.Update)
			r.Delete("/reports/{id}", reportHandler.Delete)
			r.Post("/reports/{id}/vote", reportHandler.Vote)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuthority)
				r.Patch("/reports/{id}/status", reportHandler.TransitionStatus)
			})
		})
	})

	// WebSocket live feed
	r.Get("/ws", feedHandler.HandleFeed)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
