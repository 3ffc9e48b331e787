// Package journal mirrors published checkpoint records locally so lineage
// queries and upload recovery survive process restarts. The remote record
// store stays the system of record; the journal is append-only apart from
// the artifact-attached flag.
package journal

import (
	"context"

	"github.com/sells-group/ckpt-cli/internal/model"
)

// Journal is the persistence interface for the local record mirror.
type Journal interface {
	// Append stores a newly published record. Records are journaled before
	// their upload step with ArtifactAttached=false.
	Append(ctx context.Context, rec model.CheckpointRecord) error
	// MarkArtifactAttached flips the attached flag once the upload completes.
	MarkArtifactAttached(ctx context.Context, recordID string) error
	// GetByRecordID returns the record with the given remote id, or nil.
	GetByRecordID(ctx context.Context, recordID string) (*model.CheckpointRecord, error)
	// ListRun returns all records for a run suffix ordered by epoch.
	ListRun(ctx context.Context, runSuffix string) ([]model.CheckpointRecord, error)
	// ListRuns returns the distinct run suffixes present in the journal.
	ListRuns(ctx context.Context) ([]string, error)
	// ListPendingUploads returns records whose artifact never attached.
	ListPendingUploads(ctx context.Context) ([]model.CheckpointRecord, error)
	// ListAll returns every journaled record ordered by run and epoch.
	ListAll(ctx context.Context) ([]model.CheckpointRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}
