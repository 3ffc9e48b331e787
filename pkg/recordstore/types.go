package recordstore

import (
	"fmt"
	"net/http"
)

// Collection is a handle to a resolved collection path in the record store.
type Collection struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Record is a data record combining a metadata document and an optional
// attached artifact.
type Record struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	DerivedFrom      []string       `json:"derived_from,omitempty"`
	ArtifactAttached bool           `json:"artifact_attached"`
}

// CreateRecordRequest is the payload for record creation.
type CreateRecordRequest struct {
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata"`
	DerivedFrom []string       `json:"derived_from,omitempty"`
}

// StatusError reports a non-2xx response from the record store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recordstore: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status indicates a server-side condition
// that is safe to retry.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// NotFoundError is returned by lookups that match no record.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recordstore: %s not found", e.What)
}
