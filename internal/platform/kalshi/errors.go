package kalshi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// APIError is a non-2xx response from the Kalshi API. Body keeps the raw
// payload so callers can relay it unchanged.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("kalshi: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("kalshi: HTTP %d", e.StatusCode)
}

// Is maps venue status codes onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case domain.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Payload returns the response body as JSON when it is valid JSON, or the
// body as a string otherwise.
func (e *APIError) Payload() any {
	if len(e.Body) > 0 && json.Valid(e.Body) {
		return e.Body
	}
	if len(e.Body) > 0 {
		return string(e.Body)
	}
	return nil
}

// newAPIError decodes both the nested {"error":{...}} and the flat
// {"code","message"} error shapes.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	if len(body) > 0 {
		e.Body = append(json.RawMessage(nil), body...)
	}

	var nested struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && (nested.Error.Code != "" || nested.Error.Message != "") {
		e.Code, e.Message = nested.Error.Code, nested.Error.Message
		return e
	}

	var flat struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &flat) == nil {
		e.Code, e.Message = flat.Code, flat.Message
	}
	return e
}
