package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voiceclone-go/voiceclone-go/internal/schema"
)

// ErrBackendUnavailable indicates the engine is not reachable.
var ErrBackendUnavailable = errors.New("engine unavailable")

// ErrBackendTimeout indicates the engine took too long to respond.
var ErrBackendTimeout = errors.New("engine timeout")

// BackendError represents an error returned by the engine.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("engine error (status %d): %s", e.StatusCode, e.Message)
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// errorMessage extracts the "detail" field the engine puts in error bodies,
// falling back to the raw body.
func errorMessage(contentType string, body []byte) string {
	var resp schema.ErrorResponse
	switch {
	case strings.Contains(contentType, "msgpack"):
		if err := DecodeMsgpack(body, &resp); err == nil && resp.Detail != "" {
			return resp.Detail
		}
	case strings.Contains(contentType, "json"):
		if err := json.Unmarshal(body, &resp); err == nil && resp.Detail != "" {
			return resp.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
