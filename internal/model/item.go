package model

import "time"

// Item is a lost or found object posted by a user.
type Item struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Location    string     `json:"location,omitempty"`
	Date        string     `json:"date,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Embedding   Embedding  `json:"embedding"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`

	// Joined fields (not always populated).
	Owner *OwnerInfo `json:"owner,omitempty"`
}

// OwnerInfo is the minimal public view of the user who posted an item.
type OwnerInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// NewItem holds the fields of an item submission.
type NewItem struct {
	Type        string
	Title       string
	Description string
	Category    string
	Location    string
	Date        string
	ImageURL    string
}

// HasEmbedding reports whether the item carries a usable embedding.
func (i *Item) HasEmbedding() bool {
	return i != nil && len(i.Embedding) > 0
}

// Item types.
const (
	ItemTypeLost  = "lost"
	ItemTypeFound = "found"
)

// Item statuses. Matched is terminal.
const (
	ItemStatusActive  = "active"
	ItemStatusMatched = "matched"
)

// ValidItemType reports whether t is a known item type.
func ValidItemType(t string) bool {
	return t == ItemTypeLost || t == ItemTypeFound
}

// OppositeType returns the item type that t is matched against.
// Unknown types yield an empty string.
func OppositeType(t string) string {
	switch t {
	case ItemTypeLost:
		return ItemTypeFound
	case ItemTypeFound:
		return ItemTypeLost
	default:
		return ""
	}
}
