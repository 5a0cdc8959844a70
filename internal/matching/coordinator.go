package matching

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/metrics"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// Claimer atomically moves a lost and a found item from active to matched.
// It returns store.ErrAlreadyClaimed if either item is no longer active.
type Claimer interface {
	ClaimMatch(ctx context.Context, lostID, foundID int64, similarity float64) (*model.Match, error)
}

// Notifier delivers one match notification.
type Notifier interface {
	NotifyMatch(ctx context.Context, n model.MatchNotice) error
}

// Publisher emits realtime events. Publish must not block.
type Publisher interface {
	Publish(eventType string, data any)
}

// StoreClaimer claims matches in the database.
type StoreClaimer struct {
	DB *sql.DB
}

func (c StoreClaimer) ClaimMatch(ctx context.Context, lostID, foundID int64, similarity float64) (*model.Match, error) {
	return store.ClaimMatch(ctx, c.DB, lostID, foundID, similarity)
}

// Coordinator applies the side effects of a positive match decision.
type Coordinator struct {
	Claimer   Claimer
	Notifier  Notifier
	Publisher Publisher
	// NotifyTimeout bounds each notification separately, so a hanging mail
	// server delays the response by at most twice this. Zero means no limit.
	NotifyTimeout time.Duration
}

// MatchedEvent is the payload of an item.matched event.
type MatchedEvent struct {
	MatchID     int64   `json:"match_id"`
	LostItemID  int64   `json:"lost_item_id"`
	FoundItemID int64   `json:"found_item_id"`
	Similarity  float64 `json:"similarity"`
}

// Apply claims item and the matched candidate, then notifies both owners and
// publishes an item.matched event. Only the claim can fail: notification
// failures are logged per recipient and never returned.
func (c *Coordinator) Apply(ctx context.Context, item *model.Item, owner model.Contact, result *model.MatchResult) (*model.Match, error) {
	counterpart := result.Candidate
	lostID, foundID := model.Pair(item.ID, item.Type, counterpart.ID)

	m, err := c.Claimer.ClaimMatch(ctx, lostID, foundID, result.Similarity)
	if err != nil {
		return nil, fmt.Errorf("claiming match %d/%d: %w", lostID, foundID, err)
	}
	slog.Info("items matched", "lost", lostID, "found", foundID, "similarity", result.Similarity)

	matchedItem := *item
	matchedItem.Status = model.ItemStatusMatched
	counterpart.Status = model.ItemStatusMatched

	c.notify(ctx, model.MatchNotice{
		Recipient:   owner,
		Item:        matchedItem,
		Counterpart: counterpart.Item,
		Similarity:  result.Similarity,
	})
	c.notify(ctx, model.MatchNotice{
		Recipient:   counterpart.Contact(),
		Item:        counterpart.Item,
		Counterpart: matchedItem,
		Similarity:  result.Similarity,
	})

	if c.Publisher != nil {
		c.Publisher.Publish(events.TypeItemMatched, MatchedEvent{
			MatchID:     m.ID,
			LostItemID:  lostID,
			FoundItemID: foundID,
			Similarity:  result.Similarity,
		})
	}
	return m, nil
}

func (c *Coordinator) notify(ctx context.Context, n model.MatchNotice) {
	if c.Notifier == nil {
		return
	}
	if c.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.NotifyTimeout)
		defer cancel()
	}
	if err := c.Notifier.NotifyMatch(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		slog.Error("sending match notification", "user", n.Recipient.UserID, "item", n.Item.ID, "error", err)
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
}
