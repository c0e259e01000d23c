package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
)

type textSearchRequest struct {
	Query          string  `json:"query"`
	TopK           int     `json:"top_k,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
	SessionID      string  `json:"session_id,omitempty"`
	UserID         string  `json:"user_id,omitempty"`
}

type imageSearchRequest struct {
	// ImageData is base64-encoded image bytes. ImageURL is fetched
	// instead when ImageData is empty.
	ImageData      string  `json:"image_data,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	TopK           int     `json:"top_k,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
	SessionID      string  `json:"session_id,omitempty"`
	UserID         string  `json:"user_id,omitempty"`
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	var req textSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	results, err := s.deps.Search.Search(r.Context(), search.Query{
		Kind:           store.QueryKindText,
		Text:           req.Query,
		TopK:           req.TopK,
		ScoreThreshold: req.ScoreThreshold,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	var req imageSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	var data []byte
	if req.ImageData != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			writeError(w, vitrineerrors.ValidationError("image_data is not valid base64", err))
			return
		}
		data = decoded
	}

	results, err := s.deps.Search.Search(r.Context(), search.Query{
		Kind:           store.QueryKindImage,
		ImageData:      data,
		ImageURL:       req.ImageURL,
		TopK:           req.TopK,
		ScoreThreshold: req.ScoreThreshold,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	topK, err := queryInt(r, "top_k", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	threshold, err := queryFloat(r, "score_threshold", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := s.deps.Search.Search(r.Context(), search.Query{
		Kind:           store.QueryKindSimilar,
		ReferenceID:    chi.URLParam(r, "externalID"),
		TopK:           topK,
		ScoreThreshold: threshold,
		SessionID:      r.URL.Query().Get("session_id"),
		UserID:         r.URL.Query().Get("user_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, vitrineerrors.ValidationError(
			fmt.Sprintf("%s must be a number", name), err)
	}
	return f, nil
}
