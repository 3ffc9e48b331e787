// Package metadata assembles the structured document attached to each
// checkpoint record: hyperparameters, metrics, captured variables, script
// identity, machine info, and the lineage pointer to the predecessor record.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/model"
	"github.com/sells-group/ckpt-cli/internal/provenance"
)

// Builder produces metadata documents for save calls. A builder is bound to
// one provenance graph and optionally to a script identity and extra
// derived-from record ids (script record, dataset record).
type Builder struct {
	graph       *provenance.Graph
	script      *model.ScriptIdentity
	derivedFrom []string
	now         func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithScript attaches the driving script's identity to every document.
func WithScript(script *model.ScriptIdentity) Option {
	return func(b *Builder) {
		b.script = script
	}
}

// WithDerivedFrom appends fixed record ids (e.g. the script record or a
// dataset record) to every document's derived_from set.
func WithDerivedFrom(ids ...string) Option {
	return func(b *Builder) {
		b.derivedFrom = append(b.derivedFrom, ids...)
	}
}

// WithClock overrides the timestamp source (for tests).
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a metadata builder bound to the given provenance graph.
func NewBuilder(graph *provenance.Graph, opts ...Option) *Builder {
	b := &Builder{
		graph: graph,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the complete metadata document for one save call. The
// document is finished fully in memory before any remote call happens. It
// fails with ErrMissingPredecessor when run claims a continuation (epoch > 1)
// but no prior record exists for runSuffix in the graph: a broken lineage is
// surfaced, never silently defaulted, because every downstream provenance
// query depends on it.
func (b *Builder) Build(runSuffix string, run model.RunMetadata) (*model.MetadataDocument, error) {
	if run.Hyperparameters == nil {
		return nil, eris.New("metadata: hyperparameters must not be nil")
	}

	doc := &model.MetadataDocument{
		Hyperparameters: run.Hyperparameters,
		Epoch:           run.Epoch,
		TrainingLoss:    run.TrainingLoss,
		CapturedVars:    run.CapturedVars,
		Script:          b.script,
		User:            currentUser(),
		Timestamp:       b.now(),
		System:          systemInfo(),
	}

	if run.Epoch > 1 {
		prev, ok := b.graph.LookupPredecessor(runSuffix, run.Epoch)
		if !ok {
			return nil, eris.Wrapf(model.ErrMissingPredecessor,
				"metadata: run %s epoch %d has no record for epoch %d", runSuffix, run.Epoch, run.Epoch-1)
		}
		doc.PredecessorRecordID = prev.RecordID
		doc.DerivedFrom = append(doc.DerivedFrom, prev.RecordID)
	}
	doc.DerivedFrom = append(doc.DerivedFrom, b.derivedFrom...)

	return doc, nil
}

// ScriptIdentity computes the path and SHA-256 content checksum of the
// driving script or notebook.
func ScriptIdentity(path string) (*model.ScriptIdentity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "metadata: open script %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, eris.Wrapf(err, "metadata: checksum script %s", path)
	}

	return &model.ScriptIdentity{
		Path:     path,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func systemInfo() model.SystemInfo {
	host, _ := os.Hostname()
	return model.SystemInfo{
		Hostname:  host,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
}
