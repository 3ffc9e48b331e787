// Package model holds the shared domain types for checkpoint records,
// metadata documents, and the error taxonomy of the save pipeline.
package model

import "time"

// CheckpointIdentity is the deterministic identity of one checkpoint, derived
// from the run suffix, the epoch, and the training loss at save time.
type CheckpointIdentity struct {
	RunSuffix string  `json:"run_suffix"`
	Epoch     int     `json:"epoch"`
	Loss      float64 `json:"loss"`
	Name      string  `json:"name"`
}

// CheckpointRecord is a published checkpoint: the identity plus the record
// store id, the lineage pointer, and the local artifact location.
type CheckpointRecord struct {
	Identity            CheckpointIdentity `json:"identity"`
	RecordID            string             `json:"record_id"`
	PredecessorRecordID string             `json:"predecessor_record_id,omitempty"`
	LocalArtifactPath   string             `json:"local_artifact_path"`
	ArtifactAttached    bool               `json:"artifact_attached"`
	CreatedAt           time.Time          `json:"created_at"`
}

// Initial reports whether r starts a chain, i.e. has no predecessor.
func (r CheckpointRecord) Initial() bool {
	return r.PredecessorRecordID == ""
}
