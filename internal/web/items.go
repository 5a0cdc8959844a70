package web

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// ItemsPage handles GET /. An optional ?type=lost|found narrows the list.
func (s *Server) ItemsPage(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("type")
	if !model.ValidItemType(filter) {
		filter = ""
	}

	items, err := store.ListItems(r.Context(), s.DB)
	if err != nil {
		slog.Error("failed to list items", "error", err)
	}
	if filter != "" {
		kept := items[:0]
		for _, it := range items {
			if it.Type == filter {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	data := &struct {
		PageData
		Items  []model.Item
		Filter string
	}{
		PageData: PageData{Title: "Lost & found"},
		Items:    items,
		Filter:   filter,
	}
	if err != nil {
		data.Error = "Items could not be loaded."
	}
	s.Pages.Render(w, http.StatusOK, "items.html", data)
}

// ItemDetailPage handles GET /items/{id}, the target of match email links.
func (s *Server) ItemDetailPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	item, err := store.GetItem(r.Context(), s.DB, id)
	if err != nil {
		slog.Error("failed to get item", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if item == nil || item.DeletedAt != nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	var counterpartID int64
	match, err := store.GetMatchForItem(r.Context(), s.DB, id)
	if err != nil {
		slog.Error("failed to get match", "item", id, "error", err)
	}
	if match != nil {
		counterpartID = match.FoundItemID
		if id == match.FoundItemID {
			counterpartID = match.LostItemID
		}
	}

	s.Pages.Render(w, http.StatusOK, "item_detail.html", &struct {
		PageData
		Item          *model.Item
		Match         *model.Match
		CounterpartID int64
	}{
		PageData:      PageData{Title: item.Title},
		Item:          item,
		Match:         match,
		CounterpartID: counterpartID,
	})
}
