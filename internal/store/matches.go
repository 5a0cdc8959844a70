package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/najdeno/internal/model"
)

// ErrAlreadyClaimed is returned by ClaimMatch when either item is no longer
// active. Nothing is changed in that case.
var ErrAlreadyClaimed = errors.New("item already matched")

// ClaimMatch marks a lost and a found item as matched and records the match.
// Both rows must still be active; the transition is all-or-nothing.
func ClaimMatch(ctx context.Context, db *sql.DB, lostID, foundID int64, similarity float64) (*model.Match, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id IN (?, ?) AND status = ? AND deleted_at IS NULL
		   AND ((id = ? AND type = ?) OR (id = ? AND type = ?))`,
		model.ItemStatusMatched, lostID, foundID, model.ItemStatusActive,
		lostID, model.ItemTypeLost, foundID, model.ItemTypeFound,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming items: %w", err)
	}
	if n != 2 {
		return nil, ErrAlreadyClaimed
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (lost_item_id, found_item_id, similarity) VALUES (?, ?, ?)`,
		lostID, foundID, similarity,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("recording match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting match id: %w", err)
	}

	m := &model.Match{ID: id, LostItemID: lostID, FoundItemID: foundID, Similarity: similarity}
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM matches WHERE id = ?`, id,
	).Scan(&m.CreatedAt); err != nil {
		return nil, fmt.Errorf("reading match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return m, nil
}

const matchSelect = `SELECT m.id, m.lost_item_id, m.found_item_id, m.similarity, m.created_at,
	        l.title, f.title
	 FROM matches m
	 JOIN items l ON l.id = m.lost_item_id
	 JOIN items f ON f.id = m.found_item_id`

// GetMatchForItem returns the match an item takes part in, or nil.
func GetMatchForItem(ctx context.Context, db *sql.DB, itemID int64) (*model.Match, error) {
	var m model.Match
	err := db.QueryRowContext(ctx,
		matchSelect+` WHERE m.lost_item_id = ? OR m.found_item_id = ?`, itemID, itemID,
	).Scan(&m.ID, &m.LostItemID, &m.FoundItemID, &m.Similarity, &m.CreatedAt, &m.LostTitle, &m.FoundTitle)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting match for item: %w", err)
	}
	return &m, nil
}

// ListMatchesForUser returns matches involving any item owned by userID,
// newest first.
func ListMatchesForUser(ctx context.Context, db *sql.DB, userID int64) ([]model.Match, error) {
	rows, err := db.QueryContext(ctx,
		matchSelect+` WHERE l.owner_id = ? OR f.owner_id = ?
		 ORDER BY m.created_at DESC, m.id DESC`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.LostItemID, &m.FoundItemID, &m.Similarity, &m.CreatedAt, &m.LostTitle, &m.FoundTitle); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
