// Package checkpoint ties the save pipeline together: identity resolution,
// metadata assembly, artifact packaging, and publication to the record store,
// with provenance linking each save to the one before it.
package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ckpt-cli/internal/artifact"
	"github.com/sells-group/ckpt-cli/internal/identity"
	"github.com/sells-group/ckpt-cli/internal/journal"
	"github.com/sells-group/ckpt-cli/internal/metadata"
	"github.com/sells-group/ckpt-cli/internal/model"
	"github.com/sells-group/ckpt-cli/internal/provenance"
	"github.com/sells-group/ckpt-cli/internal/publish"
	"github.com/sells-group/ckpt-cli/pkg/recordstore"
)

// Config holds the logger's fixed settings for a process lifetime.
type Config struct {
	// BaseDir is where serialized artifacts are written locally.
	BaseDir string
	// CollectionPath is the record store collection for checkpoint records.
	CollectionPath string
	// ScriptPath optionally names the driving script or notebook; when set,
	// its identity is embedded in every metadata document and the script is
	// registered as its own record.
	ScriptPath string
	// DatasetRecordID optionally links every checkpoint to an input dataset
	// record already present in the store.
	DatasetRecordID string
}

// SaveRequest carries the per-epoch state for one save call.
type SaveRequest struct {
	RunSuffix       string
	Epoch           int
	TrainingLoss    float64
	Hyperparameters map[string]any
	LocalVars       []model.CapturedVar

	// ArchivePath, when set, is uploaded verbatim instead of serializing
	// State (multi-file bundles, pre-saved weights).
	ArchivePath string
	// State is serialized to the resolved local path when ArchivePath is
	// empty.
	State artifact.StateEncoder
}

// Logger is the provenance-aware checkpoint logger. A single logical save
// runs to completion before the next begins; training loops call Save
// synchronously between epochs.
type Logger struct {
	cfg       Config
	client    recordstore.Client
	graph     *provenance.Graph
	builder   *metadata.Builder
	publisher *publish.Publisher
	jrnl      journal.Journal
	pubOpts   []publish.Option
}

// Option configures a Logger.
type Option func(*Logger)

// WithJournal enables the local record mirror. Previously journaled records
// are replayed into the provenance graph so runs resume across restarts.
func WithJournal(j journal.Journal) Option {
	return func(l *Logger) {
		l.jrnl = j
	}
}

// WithPublishOptions forwards options to the underlying publisher, e.g.
// custom retry policies.
func WithPublishOptions(opts ...publish.Option) Option {
	return func(l *Logger) {
		l.pubOpts = append(l.pubOpts, opts...)
	}
}

// New creates a Logger. When cfg.ScriptPath is set, the script's checksum is
// computed up front and the script is registered as its own record in the
// store, deduplicated by checksum, so every checkpoint can point back to the
// exact code state that produced it.
func New(ctx context.Context, cfg Config, client recordstore.Client, opts ...Option) (*Logger, error) {
	l := &Logger{
		cfg:    cfg,
		client: client,
		graph:  provenance.New(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.jrnl != nil {
		recs, err := l.jrnl.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.graph.Load(recs); err != nil {
			return nil, eris.Wrap(err, "checkpoint: replay journal")
		}
	}

	mdOpts := []metadata.Option{}
	var derived []string
	if cfg.DatasetRecordID != "" {
		derived = append(derived, cfg.DatasetRecordID)
	}

	if cfg.ScriptPath != "" {
		script, err := metadata.ScriptIdentity(cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		mdOpts = append(mdOpts, metadata.WithScript(script))

		scriptRecID, err := l.registerScript(ctx, script)
		if err != nil {
			return nil, err
		}
		derived = append(derived, scriptRecID)
	}
	if len(derived) > 0 {
		mdOpts = append(mdOpts, metadata.WithDerivedFrom(derived...))
	}

	l.builder = metadata.NewBuilder(l.graph, mdOpts...)

	pubOpts := l.pubOpts
	if l.jrnl != nil {
		pubOpts = append(pubOpts, publish.WithJournal(l.jrnl))
	}
	l.publisher = publish.New(client, l.graph, pubOpts...)

	return l, nil
}

// Save captures one checkpoint: it derives the identity, assembles the
// metadata document (including the predecessor pointer), packages the
// artifact, and publishes record plus artifact to the store. All failures
// surface to the caller; a dropped checkpoint would break the provenance
// chain for every subsequent epoch. Lineage validation happens before any
// remote call.
func (l *Logger) Save(ctx context.Context, req SaveRequest) (*model.CheckpointRecord, error) {
	id, localPath, err := identity.Resolve(l.cfg.BaseDir, req.RunSuffix, req.Epoch, req.TrainingLoss)
	if err != nil {
		return nil, err
	}

	if l.graph.Contains(id.RunSuffix, id.Epoch) {
		return nil, eris.Wrapf(model.ErrDuplicateIdentity, "checkpoint: %s already saved", id.Name)
	}

	doc, err := l.builder.Build(id.RunSuffix, model.RunMetadata{
		Hyperparameters: req.Hyperparameters,
		Epoch:           req.Epoch,
		TrainingLoss:    req.TrainingLoss,
		CapturedVars:    req.LocalVars,
	})
	if err != nil {
		return nil, err
	}

	artifactPath, err := artifact.Package(artifact.Source{
		ArchivePath: req.ArchivePath,
		State:       req.State,
	}, localPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := l.publisher.Publish(ctx, publish.Request{
		CollectionPath: l.cfg.CollectionPath,
		Identity:       id,
		Document:       doc,
		ArtifactPath:   artifactPath,
	})
	if err != nil {
		if ui, ok := model.IsUploadIncomplete(err); ok {
			zap.L().Warn("checkpoint record created but artifact upload incomplete",
				zap.String("checkpoint", id.Name),
				zap.String("record_id", ui.RecordID),
			)
			return rec, err
		}
		return nil, err
	}

	zap.L().Info("checkpoint saved",
		zap.String("checkpoint", id.Name),
		zap.String("record_id", rec.RecordID),
		zap.String("predecessor", rec.PredecessorRecordID),
		zap.Duration("publish_time", time.Since(start)),
	)
	return rec, nil
}

// Reupload retries the artifact upload for a record left incomplete by an
// earlier save, using the artifact path remembered by the journal.
func (l *Logger) Reupload(ctx context.Context, recordID string) error {
	if l.jrnl == nil {
		return eris.New("checkpoint: reupload requires a journal")
	}
	rec, err := l.jrnl.GetByRecordID(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return eris.Errorf("checkpoint: record %s not in journal", recordID)
	}
	if rec.ArtifactAttached {
		return nil
	}
	return l.publisher.Reupload(ctx, recordID, rec.LocalArtifactPath)
}

// RecoverPending retries every journaled record whose artifact never
// attached and returns how many uploads succeeded.
func (l *Logger) RecoverPending(ctx context.Context) (int, error) {
	if l.jrnl == nil {
		return 0, eris.New("checkpoint: recovery requires a journal")
	}
	pending, err := l.jrnl.ListPendingUploads(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range pending {
		if err := l.publisher.Reupload(ctx, rec.RecordID, rec.LocalArtifactPath); err != nil {
			zap.L().Warn("pending upload still failing",
				zap.String("record_id", rec.RecordID),
				zap.Error(err),
			)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Graph exposes the provenance graph for lineage queries.
func (l *Logger) Graph() *provenance.Graph {
	return l.graph
}

// registerScript uploads the driving script as its own record unless a
// record with the same title and checksum already exists.
func (l *Logger) registerScript(ctx context.Context, script *model.ScriptIdentity) (string, error) {
	coll, err := l.client.ResolveCollection(ctx, l.cfg.CollectionPath)
	if err != nil {
		return "", eris.Wrap(err, "checkpoint: resolve collection for script")
	}

	title := filepath.Base(script.Path)
	existing, err := l.client.FindRecordByTitle(ctx, coll.ID, title)
	if err == nil && existing != nil {
		if sc, ok := existing.Metadata["script"].(map[string]any); ok {
			if sum, ok := sc["checksum"].(string); ok && sum == script.Checksum {
				return existing.ID, nil
			}
		}
	} else if err != nil {
		var nf *recordstore.NotFoundError
		if !errors.As(err, &nf) {
			return "", eris.Wrap(err, "checkpoint: find script record")
		}
	}

	rec, err := l.client.CreateRecord(ctx, coll.ID, recordstore.CreateRecordRequest{
		Title: title,
		Metadata: map[string]any{
			"script": map[string]any{
				"path":     script.Path,
				"checksum": script.Checksum,
			},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "checkpoint: create script record")
	}
	if _, err := l.client.UploadFile(ctx, rec.ID, script.Path); err != nil {
		return "", eris.Wrap(err, "checkpoint: upload script")
	}

	zap.L().Info("script registered",
		zap.String("record_id", rec.ID),
		zap.String("path", script.Path),
	)
	return rec.ID, nil
}
