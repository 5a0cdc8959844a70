package model

import "time"

// Candidate is an active item of the opposite type that carries an embedding,
// together with the contact data needed to notify its owner.
type Candidate struct {
	Item
	OwnerName  string `json:"-"`
	OwnerEmail string `json:"-"`
}

// Contact identifies a notification recipient.
type Contact struct {
	UserID int64
	Name   string
	Email  string
}

// Contact returns the owner contact of the candidate.
func (c *Candidate) Contact() Contact {
	return Contact{UserID: c.OwnerID, Name: c.OwnerName, Email: c.OwnerEmail}
}

// MatchResult is the outcome of a positive match decision.
type MatchResult struct {
	Candidate  Candidate
	Similarity float64
	// Index is the position of the candidate in the scanned list.
	Index int
}

// Match is a persisted pairing of a lost and a found item.
type Match struct {
	ID          int64     `json:"id"`
	LostItemID  int64     `json:"lost_item_id"`
	FoundItemID int64     `json:"found_item_id"`
	Similarity  float64   `json:"similarity"`
	CreatedAt   time.Time `json:"created_at"`

	// Joined fields (not always populated).
	LostTitle  string `json:"lost_title,omitempty"`
	FoundTitle string `json:"found_title,omitempty"`
}

// Pair orders two item ids as (lost, found) given the type of the first one.
func Pair(firstID int64, firstType string, secondID int64) (lostID, foundID int64) {
	if firstType == ItemTypeLost {
		return firstID, secondID
	}
	return secondID, firstID
}

// MatchNotice asks for one owner to be told that their item was matched.
type MatchNotice struct {
	Recipient   Contact
	Item        Item
	Counterpart Item
	Similarity  float64
}
