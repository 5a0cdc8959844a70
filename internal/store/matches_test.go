package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/model"
)

func TestClaimMatch(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	ana := mustUser(t, database, "ana")
	bor := mustUser(t, database, "bor")
	lost := mustItem(t, database, ana.ID, model.ItemTypeLost, "red backpack")
	found := mustItem(t, database, bor.ID, model.ItemTypeFound, "red backpack")

	m, err := ClaimMatch(ctx, database, lost.ID, found.ID, 0.81)
	if err != nil {
		t.Fatalf("ClaimMatch: %v", err)
	}
	if m.LostItemID != lost.ID || m.FoundItemID != found.ID || m.Similarity != 0.81 {
		t.Errorf("unexpected match %+v", m)
	}

	for _, id := range []int64{lost.ID, found.ID} {
		item, _ := GetItem(ctx, database, id)
		if item.Status != model.ItemStatusMatched {
			t.Errorf("expected item %d matched, got %q", id, item.Status)
		}
	}

	got, err := GetMatchForItem(ctx, database, found.ID)
	if err != nil {
		t.Fatalf("GetMatchForItem: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Errorf("expected match %d, got %+v", m.ID, got)
	}
}

func TestClaimMatchAlreadyClaimedRollsBack(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	ana := mustUser(t, database, "ana")
	bor := mustUser(t, database, "bor")
	lost1 := mustItem(t, database, ana.ID, model.ItemTypeLost, "red backpack")
	lost2 := mustItem(t, database, ana.ID, model.ItemTypeLost, "red backpack again")
	found := mustItem(t, database, bor.ID, model.ItemTypeFound, "red backpack")

	if _, err := ClaimMatch(ctx, database, lost1.ID, found.ID, 0.9); err != nil {
		t.Fatalf("first ClaimMatch: %v", err)
	}

	_, err := ClaimMatch(ctx, database, lost2.ID, found.ID, 0.8)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	// The still-active side of the failed claim must be untouched.
	item, _ := GetItem(ctx, database, lost2.ID)
	if item.Status != model.ItemStatusActive {
		t.Errorf("expected lost2 to stay active, got %q", item.Status)
	}
	none, _ := GetMatchForItem(ctx, database, lost2.ID)
	if none != nil {
		t.Errorf("expected no match row for lost2, got %+v", none)
	}
}

func TestClaimMatchConcurrentClaimsOneWinner(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	bor := mustUser(t, database, "bor")
	found := mustItem(t, database, bor.ID, model.ItemTypeFound, "black umbrella")

	const rivals = 4
	lost := make([]*model.Item, rivals)
	for i := range lost {
		owner := mustUser(t, database, "rival"+string(rune('a'+i)))
		lost[i] = mustItem(t, database, owner.ID, model.ItemTypeLost, "black umbrella")
	}

	var wg sync.WaitGroup
	errs := make([]error, rivals)
	for i := range lost {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ClaimMatch(ctx, database, lost[i].ID, found.ID, 0.9)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyClaimed):
			item, _ := GetItem(ctx, database, lost[i].ID)
			if item.Status != model.ItemStatusActive {
				t.Errorf("losing item %d changed to %q", item.ID, item.Status)
			}
		default:
			t.Errorf("claim %d: %v", i, err)
		}
	}
	if wins != 1 {
		t.Errorf("%d claims won, want exactly 1", wins)
	}
}

func TestClaimMatchRejectsWrongTypes(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	ana := mustUser(t, database, "ana")
	a := mustItem(t, database, ana.ID, model.ItemTypeLost, "one")
	b := mustItem(t, database, ana.ID, model.ItemTypeLost, "two")

	if _, err := ClaimMatch(ctx, database, a.ID, b.ID, 0.9); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed for two lost items, got %v", err)
	}
	item, _ := GetItem(ctx, database, a.ID)
	if item.Status != model.ItemStatusActive {
		t.Errorf("expected item to stay active, got %q", item.Status)
	}
}

func TestListMatchesForUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	ana := mustUser(t, database, "ana")
	bor := mustUser(t, database, "bor")
	cene := mustUser(t, database, "cene")
	lost := mustItem(t, database, ana.ID, model.ItemTypeLost, "red backpack")
	found := mustItem(t, database, bor.ID, model.ItemTypeFound, "red backpack")
	ClaimMatch(ctx, database, lost.ID, found.ID, 0.8)

	for _, u := range []*model.User{ana, bor} {
		matches, err := ListMatchesForUser(ctx, database, u.ID)
		if err != nil {
			t.Fatalf("ListMatchesForUser: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected 1 match for %s, got %d", u.Name, len(matches))
		}
		if matches[0].LostTitle != "Backpack" || matches[0].FoundTitle != "Backpack" {
			t.Errorf("expected joined titles, got %+v", matches[0])
		}
	}

	matches, _ := ListMatchesForUser(ctx, database, cene.ID)
	if len(matches) != 0 {
		t.Errorf("expected no matches for unrelated user, got %d", len(matches))
	}
}
