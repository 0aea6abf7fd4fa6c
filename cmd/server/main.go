package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/atulpatil/drawbridge/internal/api"
	"github.com/atulpatil/drawbridge/internal/auth"
	"github.com/atulpatil/drawbridge/internal/config"
	"github.com/atulpatil/drawbridge/internal/registry"
	"github.com/atulpatil/drawbridge/internal/relay"
	"github.com/atulpatil/drawbridge/internal/store"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Error().Err(err).Msg("load config")
		os.Exit(1)
	}

	log := newLogger(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Database.Path).Msg("open store")
		os.Exit(1)
	}
	defer st.Close()

	ttl, _ := cfg.TokenTTL()
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, ttl)

	reg := registry.New()
	router := relay.NewRouter(reg, st, log)
	go router.Run(ctx)

	relaySrv := relay.NewServer(router, reg, tokens, relay.Config{
		MaxMessageBytes:   cfg.Relay.MaxMessageBytes,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		MessageBurst:      cfg.Relay.MessageBurst,
		SendQueueSize:     cfg.Relay.SendQueueSize,
	}, log)

	apiHandler := api.New(st, reg, tokens, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relaySrv.ServeWS)
	mux.HandleFunc("/signup", apiHandler.SignupHandler)
	mux.HandleFunc("/signin", apiHandler.SigninHandler)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/chats/", apiHandler.ChatsHandler)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: corsMiddleware(mux),
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Str("db", cfg.Database.Path).
		Msg("drawbridge server starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
