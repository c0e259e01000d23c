package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// maxBodyBytes caps request bodies. Sized for the largest base64 image
// payload the asset fetcher would accept.
const maxBodyBytes = 16 << 20

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", slog.String("error", err.Error()))
	}
}

// writeError maps the error taxonomy onto status codes: validation
// 400, not found 404, conflict 409, retryable 503, everything else
// 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case vitrineerrors.IsValidation(err):
		status = http.StatusBadRequest
	case vitrineerrors.IsNotFound(err):
		status = http.StatusNotFound
	case vitrineerrors.IsConflict(err):
		status = http.StatusConflict
	case vitrineerrors.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}

	body := errorBody{
		Code:    vitrineerrors.ErrCodeInternal,
		Message: err.Error(),
	}
	var verr *vitrineerrors.VitrineError
	if errors.As(err, &verr) {
		body.Code = verr.Code
		body.Message = verr.Message
		body.Suggestion = verr.Suggestion
		body.Details = verr.Details
	}

	writeJSON(w, status, errorResponse{Error: body})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return vitrineerrors.ValidationError("request body is not valid JSON", err)
	}
	return nil
}
