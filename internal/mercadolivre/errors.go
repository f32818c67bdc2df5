package mercadolivre

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/precifica/precifica/internal/platform/fetch"
	"github.com/precifica/precifica/internal/platform/httpx"
)

// APIError is a non-2xx answer from the marketplace API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Cause   []APIErrorCause
	Body    string
}

// APIErrorCause is a single validation cause reported by the API.
type APIErrorCause struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("mercadolivre: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("mercadolivre: %d: %s", e.Status, msg)
}

// Unwrap lets the HTTP layer map API failures to 502.
func (e *APIError) Unwrap() error {
	return httpx.ErrUpstream
}

// Temporary reports whether the failure is a rate limit or server error.
func (e *APIError) Temporary() bool {
	return fetch.Retryable(e.Status)
}

// Unauthorized reports whether the token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: string(body)}
	var payload struct {
		Error   string          `json:"error"`
		Message string          `json:"message"`
		Cause   []APIErrorCause `json:"cause"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		apiErr.Cause = payload.Cause
	}
	return apiErr
}
