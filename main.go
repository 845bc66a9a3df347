package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Martian-dev/inbox-sync/internal/api"
	"github.com/Martian-dev/inbox-sync/internal/app"
	"github.com/Martian-dev/inbox-sync/internal/auth"
	"github.com/Martian-dev/inbox-sync/internal/config"
	natsjs "github.com/Martian-dev/inbox-sync/internal/nats"
	"github.com/Martian-dev/inbox-sync/internal/store"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureDataDir(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mirror store")
	}
	defer st.Close()

	// Change events
	var dispatcherDone chan struct{}
	if cfg.NATS.URL == "" {
		log.Info().Msg("nats disabled, change events are not recorded")
		cfg.Sync.Events = false
	} else {
		pub, err := natsjs.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer pub.Close()

		streamCfg := natsjs.StreamConfig{Name: cfg.NATS.Stream, Subjects: cfg.NATS.Subjects}
		if err := pub.EnsureStream(ctx, streamCfg); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure JetStream stream")
		}

		dispatcher := &sync.Dispatcher{
			Outbox:    st,
			Publisher: pub,
			BatchSize: cfg.Sync.OutboxBatch,
			Interval:  cfg.Sync.OutboxInterval,
		}
		dispatcherDone = make(chan struct{})
		go func() {
			defer close(dispatcherDone)
			dispatcher.Run(ctx)
		}()
	}

	// Sync service
	var tokens auth.TokenSource
	if cfg.Auth.BrokerURL != "" {
		tokens = auth.NewCachingSource(auth.NewBrokerClient(cfg.Auth.BrokerURL))
	}
	svc := app.NewService(st, app.NewProviderFactory(tokens), cfg.Sync, cfg.Accounts)

	scheduler := app.NewScheduler(cfg.Scheduler, svc, cfg.Sync.OutboxRetain)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// HTTP API
	srv := &api.Server{Service: svc}
	if cfg.Auth.JWKSURL != "" {
		var opts []auth.VerifierOption
		if cfg.Auth.Issuer != "" {
			opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
		}
		if cfg.Auth.Audience != "" {
			opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
		}
		verifier, err := auth.NewJWTVerifier(ctx, cfg.Auth.JWKSURL, cfg.Auth.JWKSRefresh, opts...)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise JWT verifier")
		}
		srv.Verifier = verifier
	} else {
		log.Warn().Msg("auth.jwks_url not set, API is unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("accounts", len(cfg.Accounts)).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	scheduler.Stop()
	svc.Manager.StopAll()
	svc.Manager.Wait()
	if dispatcherDone != nil {
		<-dispatcherDone
	}

	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.With().Str("service", "inbox-sync").Logger()
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// ensureDataDir creates the parent directory of a sqlite database file.
func ensureDataDir(db config.DatabaseConfig) error {
	if db.Driver == store.DriverPgx || strings.Contains(db.DSN, ":memory:") || strings.Contains(db.DSN, "mode=memory") {
		return nil
	}
	path := strings.TrimPrefix(db.DSN, "file:")
	path, _, _ = strings.Cut(path, "?")
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
