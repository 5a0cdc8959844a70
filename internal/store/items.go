package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/erazemk/najdeno/internal/model"
)

const itemColumns = `i.id, i.owner_id, i.type, i.status, i.title, i.description, i.category,
	i.location, i.date, i.image_url, i.embedding, i.created_at, i.updated_at, i.deleted_at,
	u.id, u.name, u.image`

const itemFrom = ` FROM items i JOIN users u ON u.id = i.owner_id`

// CreateItem creates a new active item owned by ownerID.
func CreateItem(ctx context.Context, db *sql.DB, ownerID int64, in model.NewItem) (*model.Item, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (owner_id, type, title, description, category, location, date, image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ownerID, in.Type, in.Title, in.Description, in.Category,
		nullString(in.Location), nullString(in.Date), nullString(in.ImageURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID with its owner info.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+itemFrom+` WHERE i.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns all non-deleted items, newest first.
func ListItems(ctx context.Context, db *sql.DB) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+itemFrom+`
		 WHERE i.deleted_at IS NULL
		 ORDER BY i.created_at DESC, i.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListItemsByOwner returns a user's non-deleted items, newest first.
func ListItemsByOwner(ctx context.Context, db *sql.DB, ownerID int64) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+itemFrom+`
		 WHERE i.owner_id = ? AND i.deleted_at IS NULL
		 ORDER BY i.created_at DESC, i.id DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items by owner: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// DeleteItem soft-deletes an item.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// SetItemEmbedding stores the embedding of an item that has none yet.
// It reports whether the row was updated; an existing embedding is kept.
func SetItemEmbedding(ctx context.Context, db *sql.DB, id int64, emb model.Embedding) (bool, error) {
	if emb.Dim() == 0 {
		return false, fmt.Errorf("setting item embedding: empty embedding")
	}
	data, err := json.Marshal(emb)
	if err != nil {
		return false, fmt.Errorf("encoding embedding: %w", err)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE items SET embedding = ?, embedding_dim = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND embedding IS NULL AND deleted_at IS NULL`,
		string(data), emb.Dim(), id,
	)
	if err != nil {
		return false, fmt.Errorf("setting item embedding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting item embedding: %w", err)
	}
	return n == 1, nil
}

// ListCandidates returns up to limit active, non-deleted items of the given
// type whose embedding has dimension dim, newest first, with owner contact data.
func ListCandidates(ctx context.Context, db *sql.DB, itemType string, dim, limit int) ([]model.Candidate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+`, u.email`+itemFrom+`
		 WHERE i.type = ? AND i.status = ? AND i.deleted_at IS NULL
		   AND i.embedding IS NOT NULL AND i.embedding_dim = ?
		 ORDER BY i.created_at DESC, i.id DESC
		 LIMIT ?`,
		itemType, model.ItemStatusActive, dim, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var email string
		item, err := scanItem(rows, &email)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c := model.Candidate{Item: *item, OwnerEmail: email}
		if item.Owner != nil {
			c.OwnerName = item.Owner.Name
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ListItemsMissingEmbedding returns up to limit non-deleted items that have
// an image URL but no embedding, oldest first.
func ListItemsMissingEmbedding(ctx context.Context, db *sql.DB, limit int) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+itemFrom+`
		 WHERE i.deleted_at IS NULL AND i.embedding IS NULL
		   AND i.image_url IS NOT NULL AND i.image_url != ''
		 ORDER BY i.created_at, i.id
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items missing embedding: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner, extra ...any) (*model.Item, error) {
	item := &model.Item{}
	owner := &model.OwnerInfo{}
	var location, date, imageURL, embedding, ownerImage sql.NullString

	dest := []any{
		&item.ID, &item.OwnerID, &item.Type, &item.Status, &item.Title, &item.Description, &item.Category,
		&location, &date, &imageURL, &embedding, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt,
		&owner.ID, &owner.Name, &ownerImage,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	item.Location = location.String
	item.Date = date.String
	item.ImageURL = imageURL.String
	owner.Image = ownerImage.String
	item.Owner = owner

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding of item %d: %w", item.ID, err)
		}
	}
	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
