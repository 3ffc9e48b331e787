// Package publish commits checkpoints to the external record store: it
// resolves the target collection, creates the data record, uploads the
// artifact, and registers the resulting record in the provenance graph.
package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/ckpt-cli/internal/journal"
	"github.com/sells-group/ckpt-cli/internal/model"
	"github.com/sells-group/ckpt-cli/internal/provenance"
	"github.com/sells-group/ckpt-cli/internal/resilience"
	"github.com/sells-group/ckpt-cli/pkg/recordstore"
)

// Request carries everything needed to publish one checkpoint.
type Request struct {
	CollectionPath string
	Identity       model.CheckpointIdentity
	Document       *model.MetadataDocument
	ArtifactPath   string
}

// Publisher talks to the record store and owns the success-path graph
// registration. Collection handles are cached by full path string so
// re-resolving within one process lifetime costs no remote call.
type Publisher struct {
	client recordstore.Client
	graph  *provenance.Graph
	jrnl   journal.Journal

	retry       resilience.RetryConfig
	uploadRetry resilience.RetryConfig

	mu          sync.Mutex
	collections map[string]*recordstore.Collection
	sf          singleflight.Group

	now func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithJournal mirrors published records into a local journal. The record is
// journaled before its upload step so a crash mid-upload leaves a pending
// entry that the recovery path can retry.
func WithJournal(j journal.Journal) Option {
	return func(p *Publisher) {
		p.jrnl = j
	}
}

// WithRetryConfig overrides the retry policy for collection resolution and
// record creation.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(p *Publisher) {
		p.retry = cfg
	}
}

// WithUploadRetryConfig overrides the bounded retry policy for artifact
// uploads.
func WithUploadRetryConfig(cfg resilience.RetryConfig) Option {
	return func(p *Publisher) {
		p.uploadRetry = cfg
	}
}

// WithClock overrides the record timestamp source (for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates a Publisher bound to a record store client and a provenance
// graph.
func New(client recordstore.Client, graph *provenance.Graph, opts ...Option) *Publisher {
	p := &Publisher{
		client:      client,
		graph:       graph,
		retry:       resilience.DefaultRetryConfig(),
		uploadRetry: resilience.DefaultRetryConfig(),
		collections: make(map[string]*recordstore.Collection),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = resilience.RetryLogger("recordstore", "publish")
	}
	if p.uploadRetry.OnRetry == nil {
		p.uploadRetry.OnRetry = resilience.RetryLogger("recordstore", "upload")
	}
	return p
}

// Publish commits one checkpoint. Ordering invariant: the record is created
// before the upload begins, so a record always exists once an artifact
// reference is attached. If the upload fails after record creation, the
// returned record is registered with ArtifactAttached=false and the error is
// an UploadIncompleteError carrying the record id; metadata and lineage stay
// valid and queryable. Collection resolution and record creation failures
// after the retry budget surface as ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, req Request) (*model.CheckpointRecord, error) {
	coll, err := p.Collection(ctx, req.CollectionPath)
	if err != nil {
		return nil, fmt.Errorf("publish: resolve collection %s: %w: %w", req.CollectionPath, model.ErrPublishFailed, err)
	}

	doc, err := req.Document.AsMap()
	if err != nil {
		return nil, err
	}

	remote, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*recordstore.Record, error) {
		return p.client.CreateRecord(ctx, coll.ID, recordstore.CreateRecordRequest{
			Title:       req.Identity.Name,
			Metadata:    doc,
			DerivedFrom: req.Document.DerivedFrom,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("publish: create record %s: %w: %w", req.Identity.Name, model.ErrPublishFailed, err)
	}

	rec := model.CheckpointRecord{
		Identity:            req.Identity,
		RecordID:            remote.ID,
		PredecessorRecordID: req.Document.PredecessorRecordID,
		LocalArtifactPath:   req.ArtifactPath,
		CreatedAt:           p.now(),
	}

	// The lineage is valid from this point regardless of upload outcome, so
	// the record enters the graph and the journal before the upload step.
	if err := p.graph.Register(rec); err != nil {
		return nil, err
	}
	if p.jrnl != nil {
		if err := p.jrnl.Append(ctx, rec); err != nil {
			return nil, err
		}
	}

	if err := p.upload(ctx, remote.ID, req.ArtifactPath); err != nil {
		return &rec, &model.UploadIncompleteError{RecordID: remote.ID, Err: err}
	}

	rec.ArtifactAttached = true
	if p.jrnl != nil {
		if err := p.jrnl.MarkArtifactAttached(ctx, remote.ID); err != nil {
			return &rec, err
		}
	}
	return &rec, nil
}

// Reupload retries the artifact upload for an existing record, keyed by its
// record id. On success the journal entry, if any, is flipped to attached.
func (p *Publisher) Reupload(ctx context.Context, recordID, artifactPath string) error {
	if err := p.upload(ctx, recordID, artifactPath); err != nil {
		return &model.UploadIncompleteError{RecordID: recordID, Err: err}
	}
	if p.jrnl != nil {
		return p.jrnl.MarkArtifactAttached(ctx, recordID)
	}
	return nil
}

// Collection resolves or creates the collection at path, caching handles by
// the full path string and collapsing concurrent resolutions of the same
// path into one remote call.
func (p *Publisher) Collection(ctx context.Context, path string) (*recordstore.Collection, error) {
	p.mu.Lock()
	if coll, ok := p.collections[path]; ok {
		p.mu.Unlock()
		return coll, nil
	}
	p.mu.Unlock()

	v, err, _ := p.sf.Do(path, func() (any, error) {
		coll, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*recordstore.Collection, error) {
			return p.client.ResolveCollection(ctx, path)
		})
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.collections[path] = coll
		p.mu.Unlock()
		return coll, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*recordstore.Collection), nil
}

func (p *Publisher) upload(ctx context.Context, recordID, artifactPath string) error {
	return resilience.Do(ctx, p.uploadRetry, func(ctx context.Context) error {
		_, err := p.client.UploadFile(ctx, recordID, artifactPath)
		return err
	})
}
