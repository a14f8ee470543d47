package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/umar/day23-chat/internal/auth"
	"github.com/umar/day23-chat/internal/chat"
	"github.com/umar/day23-chat/internal/config"
	"github.com/umar/day23-chat/internal/database"
	"github.com/umar/day23-chat/internal/handlers"
	"github.com/umar/day23-chat/internal/middleware"
	"github.com/umar/day23-chat/internal/natsbroker"
	"github.com/umar/day23-chat/internal/redisc"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting chat server")

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if err := db.Migrate(); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	stores := chat.Stores{
		Users:    db,
		Rooms:    db,
		Messages: db,
		Typing:   db,
	}

	var presence *redisc.Presence
	if cfg.RedisURL != "" {
		redisClient, err := redisc.InitRedis(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		stores.Typing = redisc.NewTypingStore(redisClient)
		presence = redisc.NewPresence(redisClient)
		slog.Info("connected to Redis")
	}

	var broker chat.Broker
	if cfg.NATSURL != "" {
		nb, err := natsbroker.New(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to init NATS", "error", err)
			os.Exit(1)
		}
		broker = nb
		slog.Info("connected to NATS")
	} else {
		broker = chat.NewMemoryBroker()
	}
	defer broker.Close()

	gateway := chat.NewGateway(broker, stores, auth.WSIdentity(cfg.JWTSecret))
	if presence != nil {
		gateway.WithPresence(presence)
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigin))

	// Public routes
	router.HandleFunc("/health", handlers.Health).Methods("GET", "OPTIONS")
	authRouter := router.PathPrefix("/api/auth").Subrouter()
	authRouter.Use(middleware.RateLimit(5, 10))
	authRouter.HandleFunc("/register", auth.RegisterHandler(db, cfg.JWTSecret)).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/login", auth.LoginHandler(db, cfg.JWTSecret)).Methods("POST", "OPTIONS")

	// WebSocket: one session per connection, room id in the path
	router.HandleFunc("/ws/chat/{room}", gateway.ServeWS()).Methods("GET")

	// Protected routes
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/auth/me", auth.MeHandler(db)).Methods("GET")
	protected.HandleFunc("/rooms", handlers.ListRooms(db)).Methods("GET")
	protected.HandleFunc("/rooms", handlers.CreateRoom(db)).Methods("POST")
	protected.HandleFunc("/rooms/private", handlers.PrivateRoom(db, db)).Methods("POST")
	protected.HandleFunc("/rooms/{id}", handlers.GetRoom(db)).Methods("GET")
	protected.HandleFunc("/rooms/{id}/messages", handlers.GetMessages(db, db)).Methods("GET")
	protected.HandleFunc("/rooms/{id}/read", handlers.MarkRoomRead(db, db)).Methods("POST")
	protected.HandleFunc("/users", handlers.ListUsers(db)).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
