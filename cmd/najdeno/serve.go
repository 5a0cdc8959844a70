package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/najdeno/internal/api"
	"github.com/erazemk/najdeno/internal/embedding"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/storage"
	"github.com/erazemk/najdeno/internal/store"
	"github.com/erazemk/najdeno/internal/web"
)

// warmTimeout bounds the startup extractor load.
const warmTimeout = 2 * time.Minute

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		RunE:  a.runServe,
	}
	cmd.Flags().StringVarP(&a.addr, "addr", "a", "", "listen address")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	cfg := a.cfg

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return err
	}

	if n, err := store.PurgeRevokedTokens(ctx, database, time.Now()); err != nil {
		slog.Warn("purging revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("purged expired token revocations", "count", n)
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	emb.OnReady(func(name string, dim int) {
		checkEmbeddingModel(context.WithoutCancel(ctx), database, name, dim)
	})
	if cfg.Embedding.Warm {
		go warm(ctx, emb)
	}

	hub := events.NewHub(cfg.Security.CORSOrigins)
	go hub.Run(ctx)

	routerCfg := api.Config{
		DB:          database,
		JWTSecret:   jwtSecret,
		TokenTTL:    cfg.Security.TokenTTL,
		Intake:      newIntake(cfg, database, emb, hub),
		Events:      hub,
		Extractor:   emb,
		Clients:     hub.ClientCount,
		CORSOrigins: cfg.Security.CORSOrigins,
		RateLimit:   cfg.Security.RateLimit,
	}

	if cfg.Storage.S3Bucket != "" {
		uploader, err := storage.New(ctx, storage.Config{
			Bucket:        cfg.Storage.S3Bucket,
			Region:        cfg.Storage.S3Region,
			Endpoint:      cfg.Storage.S3Endpoint,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			TTL:           cfg.Storage.PresignTTL,
		})
		if err != nil {
			return err
		}
		routerCfg.Uploader = uploader
	} else {
		slog.Info("photo uploads disabled, no S3 bucket configured")
	}

	pages, err := web.NewRouter(database)
	if err != nil {
		return err
	}
	routerCfg.Pages = pages

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("server stopped, closing database")
	return nil
}

// warm loads the extractor in the background. A failure is logged; the next
// embedding request tries again.
func warm(ctx context.Context, emb *embedding.Service) {
	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()

	start := time.Now()
	if err := emb.Warm(ctx); err != nil {
		slog.Warn("embedding extractor not ready, will retry on first use", "error", err)
		return
	}
	slog.Info("embedding extractor ready", "extractor", emb.Name(), "dimension", emb.Dimension(),
		"took", time.Since(start).Round(time.Millisecond))
}
