package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the error envelope returned to the web client.
type errorBody struct {
	Error       string `json:"error"`
	Details     string `json:"details,omitempty"`
	KalshiError any    `json:"kalshiError,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps err onto a status code. Venue errors keep the venue's
// status and payload; missing resources become 404.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, r *http.Request, msg string, err error) {
	body := errorBody{Error: msg, Details: err.Error()}
	status := http.StatusInternalServerError

	var apiErr *kalshi.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
		body.KalshiError = apiErr.Payload()
		if apiErr.Message != "" {
			body.Details = apiErr.Message
		}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	logger.ErrorContext(r.Context(), "handler: "+strings.ToLower(msg),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, body)
}

// queryInt returns the named query parameter as an int64, or 0 when it is
// absent or malformed.
func queryInt(r *http.Request, name string) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// queryList splits a comma-separated query parameter.
func queryList(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	limit := int(queryInt(r, "limit"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := int(queryInt(r, "offset"))
	if offset < 0 {
		offset = 0
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
