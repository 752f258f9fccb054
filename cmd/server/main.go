package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/api"
	"pokerclock/internal/auth"
	"pokerclock/internal/command"
	"pokerclock/internal/config"
	"pokerclock/internal/events"
	"pokerclock/internal/gateway"
	"pokerclock/internal/persist"
	"pokerclock/internal/player"
	"pokerclock/internal/registry"
	"pokerclock/internal/tournament"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("connected to database")

	repo := tournament.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}
	players := player.NewRepository(pool)
	if err := players.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure player schema")
	}

	clk := clockwork.NewRealClock()
	saver := persist.NewSaver(repo, clk, cfg.Clock.SaveDebounce())
	reg := registry.New(repo, saver, clk)

	if ids, err := repo.ListIDs(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to list tournaments for preload")
	} else {
		reg.LoadAll(ctx, ids)
		log.Info().Int("tournaments", len(ids)).Msg("tournaments preloaded")
	}

	publisher := setupPublisher(cfg.NATS)
	defer publisher.Close()

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	router := command.NewRouter(reg, clk)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	wsHandler := gateway.NewHandler(verifier, reg, router, manager, clk)
	broadcaster := gateway.NewBroadcaster(reg, manager, publisher, clk, cfg.Clock.TickInterval())
	apiHandlers := api.NewHandlers(repo, reg, verifier, clk)
	playerHandlers := api.NewPlayerHandlers(players, repo, verifier)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)
	apiHandlers.RegisterRoutes(mux)
	playerHandlers.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: cors.AllowAll().Handler(mux),
	}

	go manager.Start(ctx)
	go broadcaster.Run(ctx)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	// A pending debounced save must never be lost on controlled shutdown.
	reg.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, "text") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func setupPublisher(cfg config.NATSConfig) events.Publisher {
	if cfg.URL == "" {
		return events.NoopPublisher{}
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.URL
	publisher, err := events.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Warn().Err(err).Msg("advisory event publisher unavailable, continuing without it")
		return events.NoopPublisher{}
	}
	return publisher
}
