package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the save pipeline. Callers classify failures with
// errors.Is; wrap sites add context with eris.
var (
	// ErrInvalidNamingInput marks unusable identity inputs: an empty run
	// suffix, an epoch below 1, or a non-finite loss.
	ErrInvalidNamingInput = errors.New("invalid naming input")

	// ErrMissingPredecessor marks a continuation save (epoch > 1) whose
	// previous epoch was never registered for the run.
	ErrMissingPredecessor = errors.New("missing predecessor checkpoint")

	// ErrDuplicateIdentity marks a save whose identity is already registered.
	ErrDuplicateIdentity = errors.New("duplicate checkpoint identity")

	// ErrSerialization marks a failure to produce the local artifact or to
	// encode the metadata document.
	ErrSerialization = errors.New("serialization failed")

	// ErrPublishFailed marks a record-store failure before the record
	// existed: collection resolution or record creation.
	ErrPublishFailed = errors.New("publish failed")
)

// UploadIncompleteError reports a record that was created in the store but
// whose artifact upload did not complete. The record id is valid and its
// metadata and lineage are queryable; only the file payload is missing.
type UploadIncompleteError struct {
	RecordID string
	Err      error
}

func (e *UploadIncompleteError) Error() string {
	return fmt.Sprintf("record %s created but artifact upload incomplete: %v", e.RecordID, e.Err)
}

func (e *UploadIncompleteError) Unwrap() error {
	return e.Err
}

// IsUploadIncomplete unwraps err as an UploadIncompleteError, if it is one.
func IsUploadIncomplete(err error) (*UploadIncompleteError, bool) {
	var ui *UploadIncompleteError
	if errors.As(err, &ui) {
		return ui, true
	}
	return nil, false
}
