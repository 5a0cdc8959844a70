// Package intake runs the item submission pipeline: persist the item, embed
// its photo, look for a match and apply it.
package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/najdeno/internal/embedding"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/matching"
	"github.com/erazemk/najdeno/internal/metrics"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// DefaultCandidateLimit bounds the candidate scan of one decision.
const DefaultCandidateLimit = 500

// Store is the persistence the pipeline needs.
type Store interface {
	CreateItem(ctx context.Context, ownerID int64, in model.NewItem) (*model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	SetItemEmbedding(ctx context.Context, id int64, emb model.Embedding) (bool, error)
	ListCandidates(ctx context.Context, itemType string, dim, limit int) ([]model.Candidate, error)
	ListItemsMissingEmbedding(ctx context.Context, limit int) ([]model.Item, error)
}

// Embedder turns an image URL into an embedding.
type Embedder interface {
	EmbedURL(ctx context.Context, imageURL string, fetch embedding.FetchFunc) (model.Embedding, error)
}

// DBStore implements Store on the SQLite database.
type DBStore struct {
	DB *sql.DB
}

func (s DBStore) CreateItem(ctx context.Context, ownerID int64, in model.NewItem) (*model.Item, error) {
	return store.CreateItem(ctx, s.DB, ownerID, in)
}

func (s DBStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return store.GetItem(ctx, s.DB, id)
}

func (s DBStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return store.GetUser(ctx, s.DB, id)
}

func (s DBStore) SetItemEmbedding(ctx context.Context, id int64, emb model.Embedding) (bool, error) {
	return store.SetItemEmbedding(ctx, s.DB, id, emb)
}

func (s DBStore) ListCandidates(ctx context.Context, itemType string, dim, limit int) ([]model.Candidate, error) {
	return store.ListCandidates(ctx, s.DB, itemType, dim, limit)
}

func (s DBStore) ListItemsMissingEmbedding(ctx context.Context, limit int) ([]model.Item, error) {
	return store.ListItemsMissingEmbedding(ctx, s.DB, limit)
}

// Service wires the pipeline stages together.
type Service struct {
	Store       Store
	Embedder    Embedder
	Fetch       embedding.FetchFunc
	Engine      *matching.Engine
	Coordinator *matching.Coordinator
	Publisher   matching.Publisher

	CandidateLimit int
	// EmbedTimeout bounds image fetch plus extraction. Zero means no limit.
	EmbedTimeout time.Duration
}

// CreatedEvent is the payload of an item.created event.
type CreatedEvent struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Submit stores a new item for owner and tries to match it. Only the initial
// write can fail; embedding and matching problems are logged and the item is
// returned as stored.
func (s *Service) Submit(ctx context.Context, owner model.Contact, in model.NewItem) (*model.Item, error) {
	item, err := s.Store.CreateItem(ctx, owner.UserID, in)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	slog.Info("item created", "item", item.ID, "type", item.Type, "user", owner.UserID)

	if item.ImageURL != "" {
		s.embed(ctx, item)
	}

	if s.Publisher != nil {
		s.Publisher.Publish(events.TypeItemCreated, CreatedEvent{
			ID:       item.ID,
			Type:     item.Type,
			Title:    item.Title,
			Category: item.Category,
		})
	}

	if item.HasEmbedding() {
		s.match(ctx, item, owner)
	} else {
		metrics.MatchDecisions.WithLabelValues("skipped").Inc()
	}

	fresh, err := s.Store.GetItem(ctx, item.ID)
	if err != nil || fresh == nil {
		slog.Warn("re-reading item", "item", item.ID, "error", err)
		return item, nil
	}
	return fresh, nil
}

// Reembed computes missing embeddings for up to limit items with a photo and
// runs matching for the active ones. It returns how many items were embedded.
func (s *Service) Reembed(ctx context.Context, limit int) (int, error) {
	items, err := s.Store.ListItemsMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing items to embed: %w", err)
	}

	embedded := 0
	for i := range items {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		item := &items[i]
		if !s.embed(ctx, item) {
			continue
		}
		embedded++

		if item.Status != model.ItemStatusActive {
			continue
		}
		owner, err := s.Store.GetUser(ctx, item.OwnerID)
		if err != nil || owner == nil {
			slog.Warn("loading item owner", "item", item.ID, "user", item.OwnerID, "error", err)
			continue
		}
		s.match(ctx, item, model.Contact{UserID: owner.ID, Name: owner.Name, Email: owner.Email})
	}
	return embedded, nil
}

// embed fetches and embeds the item's photo and stores the result. On success
// item.Embedding is set and true is returned.
func (s *Service) embed(ctx context.Context, item *model.Item) bool {
	embedCtx := ctx
	if s.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.EmbedTimeout)
		defer cancel()
	}

	emb, err := s.Embedder.EmbedURL(embedCtx, item.ImageURL, s.Fetch)
	if err != nil {
		slog.Warn("embedding item image", "item", item.ID, "error", err)
		return false
	}

	ok, err := s.Store.SetItemEmbedding(ctx, item.ID, emb)
	if err != nil {
		slog.Warn("storing item embedding", "item", item.ID, "error", err)
		return false
	}
	if !ok {
		slog.Warn("item embedding not stored", "item", item.ID)
		return false
	}
	item.Embedding = emb
	return true
}

// match looks for a counterpart of item and applies the first decision whose
// claim succeeds. A lost claim drops that candidate and decides again.
func (s *Service) match(ctx context.Context, item *model.Item, owner model.Contact) {
	candidates, err := s.Store.ListCandidates(ctx, model.OppositeType(item.Type), item.Embedding.Dim(), s.candidateLimit())
	if err != nil {
		metrics.MatchDecisions.WithLabelValues("error").Inc()
		slog.Error("listing match candidates", "item", item.ID, "error", err)
		return
	}
	metrics.CandidatesScanned.Observe(float64(len(candidates)))

	for {
		result, ok := s.Engine.Decide(item, candidates)
		if !ok {
			metrics.MatchDecisions.WithLabelValues("no_match").Inc()
			return
		}

		_, err := s.Coordinator.Apply(ctx, item, owner, result)
		if err == nil {
			metrics.MatchDecisions.WithLabelValues("matched").Inc()
			return
		}
		if !errors.Is(err, store.ErrAlreadyClaimed) {
			metrics.MatchDecisions.WithLabelValues("error").Inc()
			slog.Error("applying match", "item", item.ID, "candidate", result.Candidate.ID, "error", err)
			return
		}

		metrics.MatchDecisions.WithLabelValues("claim_lost").Inc()
		slog.Info("match claim lost", "item", item.ID, "candidate", result.Candidate.ID)

		current, err := s.Store.GetItem(ctx, item.ID)
		if err != nil || current == nil || current.Status != model.ItemStatusActive {
			return
		}
		candidates = append(candidates[:result.Index:result.Index], candidates[result.Index+1:]...)
	}
}

func (s *Service) candidateLimit() int {
	if s.CandidateLimit > 0 {
		return s.CandidateLimit
	}
	return DefaultCandidateLimit
}
