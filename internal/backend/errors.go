package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound matches an APIError with status 404.
	ErrNotFound = errors.New("backend: not found")
	// ErrNotAccepted reports a generation start the backend did not accept.
	ErrNotAccepted = errors.New("backend: generation not accepted")
)

// APIError is a non-success response from the backend.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: %s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend: %s: %d %s", e.Op, e.Status, e.Detail)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Temporary reports statuses worth retrying by hand.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusBadGateway || e.Status == http.StatusGatewayTimeout
}

// parseAPIError builds an APIError from a response body. The backend's
// error shape is {"detail": ...}, where detail may be a string or a list of
// validation entries.
func parseAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{Op: op, Status: status}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != nil {
		switch d := parsed.Detail.(type) {
		case string:
			apiErr.Detail = d
		default:
			if raw, err := json.Marshal(d); err == nil {
				apiErr.Detail = string(raw)
			}
		}
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(body))
	if len(apiErr.Detail) > 200 {
		apiErr.Detail = apiErr.Detail[:200]
	}
	return apiErr
}
