package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mossy-p/call-relay/config"
	"github.com/mossy-p/call-relay/internal/handlers"
	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	iceServers, err := cfg.ICEServers()
	if err != nil {
		return err
	}

	policy, err := relay.ParseDuplicatePolicy(cfg.Relay.DuplicateIdentity)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := relay.Options{
		DuplicatePolicy:      policy,
		TrackCallDuration:    cfg.Relay.TrackCallDuration,
		SendBufferSize:       cfg.Relay.SendBufferSize,
		MaxMessageBytes:      cfg.Relay.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.Relay.MaxMessagesPerSecond,
		Metrics:              m,
		Logger:               logger,
	}

	// The presence mirror is optional; routing never depends on it.
	var presence relay.PresenceStore
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		mirror := redis.NewPresence(client, uuid.New().String())
		presence = mirror
		opts.Presence = mirror
		logger.Info("redis presence mirror enabled", "key", mirror.Key())
	}

	svc := relay.NewService(opts)
	if err := svc.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	svc.MustHub()

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterDeps{
		Config:     cfg,
		Service:    svc,
		Presence:   presence,
		Metrics:    m,
		ICEServers: iceServers,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting call relay",
			"addr", srv.Addr,
			"environment", cfg.Environment,
			"duplicate_identity", string(policy),
			"track_call_duration", cfg.Relay.TrackCallDuration,
			"ice_servers", len(iceServers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the server, so the
	// hub is stopped explicitly to close them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown incomplete", "err", err)
	}
	logger.Info("relay stopped")
	return nil
}
