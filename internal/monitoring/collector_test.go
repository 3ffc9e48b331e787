package monitoring

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ckpt-cli/internal/journal"
	"github.com/sells-group/ckpt-cli/internal/model"
)

func newTestJournal(t *testing.T) journal.Journal {
	t.Helper()
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Migrate(context.Background()))
	t.Cleanup(func() { j.Close() })
	return j
}

func appendRecord(t *testing.T, j journal.Journal, run string, epoch int, attached bool) {
	t.Helper()
	name := fmt.Sprintf("%s_epoch_%d_loss_0.5000", run, epoch)
	rec := model.CheckpointRecord{
		Identity: model.CheckpointIdentity{
			RunSuffix: run,
			Epoch:     epoch,
			Loss:      0.5,
			Name:      name,
		},
		RecordID:          fmt.Sprintf("d/%s-%d", run, epoch),
		LocalArtifactPath: "/tmp/" + name + ".ckpt",
		ArtifactAttached:  attached,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, j.Append(context.Background(), rec))
}

func TestCollect_Empty(t *testing.T) {
	c := NewCollector(newTestJournal(t))

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.RecordsTotal)
	assert.Zero(t, snap.RecordsPending)
	assert.Zero(t, snap.RunsTotal)
	assert.Empty(t, snap.LongestChainRun)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect(t *testing.T) {
	j := newTestJournal(t)
	appendRecord(t, j, "vae", 1, true)
	appendRecord(t, j, "vae", 2, true)
	appendRecord(t, j, "vae", 3, false)
	appendRecord(t, j, "gan", 1, true)

	snap, err := NewCollector(j).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RecordsTotal)
	assert.Equal(t, 1, snap.RecordsPending)
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 3, snap.LongestChainLen)
	assert.Equal(t, "vae", snap.LongestChainRun)
}
