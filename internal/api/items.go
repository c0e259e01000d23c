package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/store"
)

type createItemRequest struct {
	ExternalID  string           `json:"external_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Price       *float64         `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	AssetURL    string           `json:"asset_url,omitempty"`
	Attributes  store.Attributes `json:"attributes,omitempty"`
}

type itemWithTask struct {
	Item *store.Item          `json:"item"`
	Task *pipeline.TaskHandle `json:"task,omitempty"`
}

type listItemsResponse struct {
	Items  []*store.Item `json:"items"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// handleCreateItem creates the item and submits it for indexing. A
// failed submission does not undo the create; the item is durable and
// reconciliation will index it later.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	item := &store.Item{
		ExternalID:  req.ExternalID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Currency:    req.Currency,
		AssetURL:    req.AssetURL,
		Attributes:  req.Attributes,
	}
	if err := s.deps.Metadata.CreateItem(r.Context(), item); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.deps.Pipeline.SubmitIndex(r.Context(), item.ExternalID, "")
	if err != nil {
		slog.Warn("index_submit_failed_after_create",
			slog.String("external_id", item.ExternalID),
			slog.String("error", err.Error()))
		task = nil
	}

	writeJSON(w, http.StatusCreated, itemWithTask{Item: item, Task: task})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	var items []*store.Item
	if category := r.URL.Query().Get("category"); category != "" {
		items, err = s.deps.Metadata.ListItemsByCategory(r.Context(), category, offset, limit)
	} else {
		items, err = s.deps.Metadata.ListItems(r.Context(), offset, limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*store.Item{}
	}

	writeJSON(w, http.StatusOK, listItemsResponse{Items: items, Offset: offset, Limit: limit})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Metadata.GetItemByExternalID(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleUpdateItem patches the item and re-submits indexing so the
// vector catches up with the new content.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch store.ItemPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	externalID := chi.URLParam(r, "externalID")
	item, err := s.deps.Metadata.GetItemByExternalID(r.Context(), externalID)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.deps.Metadata.UpdateItem(r.Context(), item.InternalID, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.deps.Pipeline.SubmitIndex(r.Context(), externalID, "")
	if err != nil {
		slog.Warn("index_submit_failed_after_update",
			slog.String("external_id", externalID),
			slog.String("error", err.Error()))
		task = nil
	}

	writeJSON(w, http.StatusOK, itemWithTask{Item: updated, Task: task})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pipeline.DeleteItem(r.Context(), chi.URLParam(r, "externalID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, vitrineerrors.ValidationError(
			fmt.Sprintf("%s must be an integer", name), err)
	}
	return n, nil
}
