package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/auth"
	"github.com/mbellot/loup-garou/internal/config"
	"github.com/mbellot/loup-garou/internal/handler"
	"github.com/mbellot/loup-garou/internal/logger"
	"github.com/mbellot/loup-garou/internal/middleware"
	"github.com/mbellot/loup-garou/internal/repository/postgres"
	redisrepo "github.com/mbellot/loup-garou/internal/repository/redis"
	"github.com/mbellot/loup-garou/internal/service"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databaseURL", cfg.DatabaseURL).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable Redis keyspace notifications for deadline expiry events.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (deadline expiry may not work)")
	}

	// Repos
	userRepo := postgres.NewUserRepo(db)
	matchStore := postgres.NewMatchStore(db)
	messageRepo := postgres.NewMessageRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	telegram := auth.NewTelegramVerifier(cfg.BotToken)
	if cfg.BotToken == "" {
		log.Warn().Msg("BOT_TOKEN not set, Telegram login will reject everything")
	}

	// WebSocket hub
	wsHub := handler.NewHub()

	// Engine
	durations := service.PhaseDurations{
		Night: cfg.NightDuration,
		Day:   cfg.DayDuration,
		Vote:  cfg.VoteDuration,
	}
	notifier := service.NewChatNotifier(messageRepo, wsHub)
	engine := service.NewEngine(matchStore, redisClient, notifier, wsHub, durations)

	// Deadline listener (auto-advance on expiry, retirement sweep)
	deadlines := service.NewDeadlineListener(redisClient.Underlying(), engine, matchStore, cfg.RetireAfter)

	// Handlers
	authHandler := handler.NewAuthHandler(telegram, jwtMgr, userRepo)
	userHandler := handler.NewUserHandler(userRepo)
	matchHandler := handler.NewMatchHandler(engine)
	messageHandler := handler.NewMessageHandler(messageRepo, engine, wsHub)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/telegram", authHandler.TelegramLogin)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /users/me", userHandler.GetMe)
	api.HandleFunc("PATCH /users/me", userHandler.UpdateMe)
	api.HandleFunc("GET /users/{id}", userHandler.GetUser)
	api.HandleFunc("POST /matches", matchHandler.CreateMatch)
	api.HandleFunc("GET /matches", matchHandler.ListMatches)
	api.HandleFunc("GET /matches/{id}", matchHandler.GetMatch)
	api.HandleFunc("POST /matches/{id}/join", matchHandler.JoinMatch)
	api.HandleFunc("POST /matches/{id}/start", matchHandler.StartMatch)
	api.HandleFunc("POST /matches/{id}/vote", matchHandler.CastVote)
	api.HandleFunc("POST /matches/{id}/night-action", matchHandler.NightAction)
	api.HandleFunc("POST /matches/{id}/leave", matchHandler.LeaveMatch)
	api.HandleFunc("GET /matches/{id}/messages", messageHandler.ListMessages)
	api.HandleFunc("POST /matches/{id}/messages", messageHandler.SendMessage)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Recover active matches (rehydrate Redis from Postgres after restart)
	if err := engine.RecoverActiveMatches(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to recover active matches (non-fatal)")
	}

	// Start deadline listener
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deadlines.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
