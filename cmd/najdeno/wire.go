package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/erazemk/najdeno/internal/config"
	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/embedding"
	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/intake"
	"github.com/erazemk/najdeno/internal/matching"
	"github.com/erazemk/najdeno/internal/notify"
	"github.com/erazemk/najdeno/internal/store"
)

// openDatabase opens the database, creating it with an admin account if the
// file does not exist yet.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		database, password, err := initDatabase(ctx, path, defaultAdminName, defaultAdminEmail)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(path, defaultAdminEmail, password)
		fmt.Println()
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Ensure schema exists (idempotent).
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring database schema: %w", err)
	}

	slog.Info("database ready", "path", path)
	return database, nil
}

// newEmbedder builds the embedding service for the configured provider.
func newEmbedder(cfg *config.Config) (*embedding.Service, error) {
	loader, err := embedding.NewLoader(embedding.LoaderConfig{
		Provider: cfg.Embedding.Provider,
		URL:      cfg.Embedding.URL,
		Mode:     cfg.Embedding.Mode,
		Timeout:  cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return embedding.NewService(loader), nil
}

// newMailer returns an SMTP mailer, or a mailer that only logs when no SMTP
// host is configured.
func newMailer(cfg *config.Config) notify.Mailer {
	if cfg.Mail.SMTPHost == "" {
		slog.Warn("no SMTP host configured, match emails will only be logged")
		return notify.LogMailer{}
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.SMTPUsername,
		Password: cfg.Mail.SMTPPassword,
		StartTLS: cfg.Mail.SMTPStartTLS,
		Timeout:  cfg.Mail.Timeout,
	})
}

// newIntake wires the submission pipeline. pub may be nil.
func newIntake(cfg *config.Config, database *sql.DB, emb *embedding.Service, pub matching.Publisher) *intake.Service {
	client := &http.Client{Timeout: cfg.Embedding.Timeout}
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		return imaging.Fetch(ctx, client, url, cfg.Embedding.MaxImageBytes)
	}

	engine := &matching.Engine{
		Threshold:  cfg.Matching.Threshold,
		MinOverlap: cfg.Matching.MinOverlap,
		Policy:     cfg.Matching.Policy,
	}
	slog.Info("match engine configured", "engine", engine.String())

	coordinator := &matching.Coordinator{
		Claimer:  matching.StoreClaimer{DB: database},
		Notifier: notify.NewNotifier(newMailer(cfg), cfg.Server.BaseURL, cfg.Mail.From),
		// Mailer and coordinator share the bound; the latter also covers rendering.
		NotifyTimeout: cfg.Mail.Timeout,
	}

	svc := &intake.Service{
		Store:          intake.DBStore{DB: database},
		Embedder:       emb,
		Fetch:          fetch,
		Engine:         engine,
		Coordinator:    coordinator,
		CandidateLimit: cfg.Matching.CandidateLimit,
		EmbedTimeout:   cfg.Embedding.Timeout,
	}
	if pub != nil {
		coordinator.Publisher = pub
		svc.Publisher = pub
	}
	return svc
}

// checkEmbeddingModel records which extractor produces embeddings and warns
// when it differs from the one that produced the stored ones. Embeddings of a
// different dimension are never compared, so older items stop matching.
// It runs once the dimension is known, which for the remote provider is after
// the first successful embedding.
func checkEmbeddingModel(ctx context.Context, database *sql.DB, name string, dim int) {
	current := fmt.Sprintf("%s/%d", name, dim)

	previous, err := store.GetSetting(ctx, database, store.SettingEmbeddingModel)
	if err != nil {
		slog.Warn("reading embedding model setting", "error", err)
		return
	}
	if previous != "" && previous != current {
		slog.Warn("embedding model changed, items embedded by the previous model will not match new ones",
			"previous", previous, "current", current)
	}
	if previous != current {
		if err := store.PutSetting(ctx, database, store.SettingEmbeddingModel, current); err != nil {
			slog.Warn("storing embedding model setting", "error", err)
		}
	}
}
