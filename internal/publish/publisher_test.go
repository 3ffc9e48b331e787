package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ckpt-cli/internal/model"
	"github.com/sells-group/ckpt-cli/internal/provenance"
	"github.com/sells-group/ckpt-cli/internal/resilience"
	"github.com/sells-group/ckpt-cli/pkg/recordstore"
)

type fakeClient struct {
	mu sync.Mutex

	resolveCalls int
	createCalls  int
	uploadCalls  int

	resolveFn func(path string) (*recordstore.Collection, error)
	createFn  func(req recordstore.CreateRecordRequest) (*recordstore.Record, error)
	uploadFn  func(recordID, path string) (*recordstore.Record, error)
}

func (f *fakeClient) ResolveCollection(ctx context.Context, path string) (*recordstore.Collection, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()
	if f.resolveFn != nil {
		return f.resolveFn(path)
	}
	return &recordstore.Collection{ID: "c/1", Path: path}, nil
}

func (f *fakeClient) CreateRecord(ctx context.Context, collectionID string, req recordstore.CreateRecordRequest) (*recordstore.Record, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(req)
	}
	return &recordstore.Record{ID: fmt.Sprintf("d/%d", n), Title: req.Title}, nil
}

func (f *fakeClient) UpdateRecord(ctx context.Context, recordID string, metadata map[string]any) (*recordstore.Record, error) {
	return &recordstore.Record{ID: recordID, Metadata: metadata}, nil
}

func (f *fakeClient) UploadFile(ctx context.Context, recordID, path string) (*recordstore.Record, error) {
	f.mu.Lock()
	f.uploadCalls++
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(recordID, path)
	}
	return &recordstore.Record{ID: recordID, ArtifactAttached: true}, nil
}

func (f *fakeClient) GetRecord(ctx context.Context, recordID string) (*recordstore.Record, error) {
	return &recordstore.Record{ID: recordID}, nil
}

func (f *fakeClient) FindRecordByTitle(ctx context.Context, collectionID, title string) (*recordstore.Record, error) {
	return nil, &recordstore.NotFoundError{What: "record titled " + title}
}

type memJournal struct {
	mu   sync.Mutex
	recs []model.CheckpointRecord
}

func (m *memJournal) Append(ctx context.Context, rec model.CheckpointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memJournal) MarkArtifactAttached(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].RecordID == recordID {
			m.recs[i].ArtifactAttached = true
			return nil
		}
	}
	return fmt.Errorf("record %s not journaled", recordID)
}

func (m *memJournal) GetByRecordID(ctx context.Context, recordID string) (*model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].RecordID == recordID {
			rec := m.recs[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *memJournal) ListRun(ctx context.Context, runSuffix string) ([]model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CheckpointRecord
	for _, rec := range m.recs {
		if rec.Identity.RunSuffix == runSuffix {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memJournal) ListRuns(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, rec := range m.recs {
		if !seen[rec.Identity.RunSuffix] {
			seen[rec.Identity.RunSuffix] = true
			out = append(out, rec.Identity.RunSuffix)
		}
	}
	return out, nil
}

func (m *memJournal) ListPendingUploads(ctx context.Context) ([]model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CheckpointRecord
	for _, rec := range m.recs {
		if !rec.ArtifactAttached {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memJournal) ListAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CheckpointRecord(nil), m.recs...), nil
}

func (m *memJournal) Migrate(ctx context.Context) error { return nil }
func (m *memJournal) Close() error                      { return nil }

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1.0,
		OnRetry:        func(int, error) {},
	}
}

func testRequest(epoch int, predecessor string) Request {
	name := fmt.Sprintf("t1_epoch_%d_loss_0.5000", epoch)
	return Request{
		CollectionPath: "/checkpoints",
		Identity: model.CheckpointIdentity{
			RunSuffix: "t1",
			Epoch:     epoch,
			Loss:      0.5,
			Name:      name,
		},
		Document: &model.MetadataDocument{
			Hyperparameters:     map[string]any{"lr": 0.001},
			Epoch:               epoch,
			TrainingLoss:        0.5,
			PredecessorRecordID: predecessor,
			Timestamp:           time.Now().UTC(),
		},
		ArtifactPath: "/tmp/" + name + ".ckpt",
	}
}

func TestPublish_Success(t *testing.T) {
	client := &fakeClient{}
	graph := provenance.New()
	jrnl := &memJournal{}
	p := New(client, graph,
		WithJournal(jrnl),
		WithRetryConfig(fastRetry(3)),
		WithUploadRetryConfig(fastRetry(3)),
	)

	rec, err := p.Publish(context.Background(), testRequest(1, ""))
	require.NoError(t, err)

	assert.Equal(t, "d/1", rec.RecordID)
	assert.Empty(t, rec.PredecessorRecordID)
	assert.True(t, rec.ArtifactAttached)
	assert.True(t, graph.Contains("t1", 1))

	stored, err := jrnl.GetByRecordID(context.Background(), "d/1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.ArtifactAttached)
}

func TestPublish_CollectionCached(t *testing.T) {
	client := &fakeClient{}
	graph := provenance.New()
	p := New(client, graph, WithRetryConfig(fastRetry(3)), WithUploadRetryConfig(fastRetry(3)))

	_, err := p.Publish(context.Background(), testRequest(1, ""))
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), testRequest(2, "d/1"))
	require.NoError(t, err)

	assert.Equal(t, 1, client.resolveCalls, "second publish should reuse the cached collection handle")
	assert.Equal(t, 2, client.createCalls)
}

func TestPublish_UploadFailureLeavesPendingRecord(t *testing.T) {
	client := &fakeClient{
		uploadFn: func(recordID, path string) (*recordstore.Record, error) {
			return nil, errors.New("connection reset")
		},
	}
	graph := provenance.New()
	jrnl := &memJournal{}
	p := New(client, graph,
		WithJournal(jrnl),
		WithRetryConfig(fastRetry(3)),
		WithUploadRetryConfig(fastRetry(2)),
	)

	rec, err := p.Publish(context.Background(), testRequest(1, ""))
	require.Error(t, err)

	ui, ok := model.IsUploadIncomplete(err)
	require.True(t, ok)
	assert.Equal(t, "d/1", ui.RecordID)

	// The record exists and its lineage stays valid even without the artifact.
	require.NotNil(t, rec)
	assert.Equal(t, "d/1", rec.RecordID)
	assert.False(t, rec.ArtifactAttached)
	assert.True(t, graph.Contains("t1", 1))

	pending, err := jrnl.ListPendingUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "d/1", pending[0].RecordID)
}

func TestPublish_RetriesTransientCreate(t *testing.T) {
	attempts := 0
	client := &fakeClient{
		createFn: func(req recordstore.CreateRecordRequest) (*recordstore.Record, error) {
			attempts++
			if attempts < 3 {
				return nil, &recordstore.StatusError{StatusCode: 503, Body: "overloaded"}
			}
			return &recordstore.Record{ID: "d/9", Title: req.Title}, nil
		},
	}
	graph := provenance.New()
	p := New(client, graph, WithRetryConfig(fastRetry(3)), WithUploadRetryConfig(fastRetry(3)))

	rec, err := p.Publish(context.Background(), testRequest(1, ""))
	require.NoError(t, err)
	assert.Equal(t, "d/9", rec.RecordID)
	assert.Equal(t, 3, attempts)
}

func TestPublish_CreateFailureIsPublishFailed(t *testing.T) {
	client := &fakeClient{
		createFn: func(req recordstore.CreateRecordRequest) (*recordstore.Record, error) {
			return nil, &recordstore.StatusError{StatusCode: 400, Body: "bad metadata"}
		},
	}
	graph := provenance.New()
	p := New(client, graph, WithRetryConfig(fastRetry(3)), WithUploadRetryConfig(fastRetry(3)))

	rec, err := p.Publish(context.Background(), testRequest(1, ""))
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, model.ErrPublishFailed)

	var se *recordstore.StatusError
	assert.ErrorAs(t, err, &se)

	assert.Equal(t, 1, client.createCalls, "permanent failures must not be retried")
	assert.Equal(t, 0, client.uploadCalls, "no upload may start before the record exists")
	assert.False(t, graph.Contains("t1", 1))
}

func TestPublish_ResolveFailureIsPublishFailed(t *testing.T) {
	client := &fakeClient{
		resolveFn: func(path string) (*recordstore.Collection, error) {
			return nil, &recordstore.StatusError{StatusCode: 401, Body: "bad token"}
		},
	}
	p := New(client, provenance.New(), WithRetryConfig(fastRetry(3)))

	_, err := p.Publish(context.Background(), testRequest(1, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPublishFailed)
	assert.Equal(t, 0, client.createCalls)
}

func TestReupload(t *testing.T) {
	failing := true
	client := &fakeClient{
		uploadFn: func(recordID, path string) (*recordstore.Record, error) {
			if failing {
				return nil, errors.New("connection reset")
			}
			return &recordstore.Record{ID: recordID, ArtifactAttached: true}, nil
		},
	}
	graph := provenance.New()
	jrnl := &memJournal{}
	p := New(client, graph,
		WithJournal(jrnl),
		WithRetryConfig(fastRetry(2)),
		WithUploadRetryConfig(fastRetry(2)),
	)

	_, err := p.Publish(context.Background(), testRequest(1, ""))
	ui, ok := model.IsUploadIncomplete(err)
	require.True(t, ok)

	failing = false
	require.NoError(t, p.Reupload(context.Background(), ui.RecordID, "/tmp/t1_epoch_1_loss_0.5000.ckpt"))

	pending, err := jrnl.ListPendingUploads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
