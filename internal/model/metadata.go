package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// CapturedVar is one caller-supplied variable snapshotted at save time. The
// slice form preserves the caller's ordering, which a map would lose.
type CapturedVar struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ScriptIdentity pins the driving script or notebook by path and content
// checksum so a checkpoint can point back to the exact code that produced it.
type ScriptIdentity struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// SystemInfo describes the machine a checkpoint was saved on.
type SystemInfo struct {
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	GoVersion string `json:"go_version"`
}

// RunMetadata is the per-epoch input to metadata assembly.
type RunMetadata struct {
	Hyperparameters map[string]any
	Epoch           int
	TrainingLoss    float64
	CapturedVars    []CapturedVar
}

// MetadataDocument is the complete structured document attached to a
// checkpoint record in the store.
type MetadataDocument struct {
	Hyperparameters     map[string]any  `json:"hyperparameters"`
	Epoch               int             `json:"epoch"`
	TrainingLoss        float64         `json:"training_loss"`
	CapturedVars        []CapturedVar   `json:"captured_vars,omitempty"`
	Script              *ScriptIdentity `json:"script,omitempty"`
	PredecessorRecordID string          `json:"predecessor_record_id,omitempty"`
	DerivedFrom         []string        `json:"derived_from,omitempty"`
	User                string          `json:"user,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
	System              SystemInfo      `json:"system"`
}

// AsMap converts the document to the generic map shape the record store
// accepts, via a JSON round trip so field names match the wire tags.
func (d *MetadataDocument) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, eris.Wrapf(ErrSerialization, "model: marshal metadata document: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(ErrSerialization, "model: unmarshal metadata document: %v", err)
	}
	return out, nil
}
