package journal

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresJournal(t *testing.T) (*PostgresJournal, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresJournal_Append(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	rec := testRecord("t1", 2, "d/t1-1")
	mock.ExpectExec("INSERT INTO checkpoint_records").
		WithArgs(
			pgxmock.AnyArg(),
			rec.Identity.RunSuffix,
			rec.Identity.Epoch,
			rec.Identity.Loss,
			rec.Identity.Name,
			rec.RecordID,
			rec.PredecessorRecordID,
			rec.LocalArtifactPath,
			rec.ArtifactAttached,
			rec.CreatedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, j.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_AppendInitialStoresNullPredecessor(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	rec := testRecord("t1", 1, "")
	mock.ExpectExec("INSERT INTO checkpoint_records").
		WithArgs(
			pgxmock.AnyArg(),
			rec.Identity.RunSuffix,
			rec.Identity.Epoch,
			rec.Identity.Loss,
			rec.Identity.Name,
			rec.RecordID,
			nil,
			rec.LocalArtifactPath,
			rec.ArtifactAttached,
			rec.CreatedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, j.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_MarkArtifactAttached(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	mock.ExpectExec("UPDATE checkpoint_records SET artifact_attached").
		WithArgs("d/t1-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, j.MarkArtifactAttached(context.Background(), "d/t1-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_MarkUnknownRecord(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	mock.ExpectExec("UPDATE checkpoint_records SET artifact_attached").
		WithArgs("d/unknown").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.Error(t, j.MarkArtifactAttached(context.Background(), "d/unknown"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func journalColumns() []string {
	return []string{
		"run_suffix", "epoch", "loss", "name", "record_id",
		"coalesce", "artifact_path", "artifact_attached", "created_at",
	}
}

func TestPostgresJournal_GetByRecordID(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM checkpoint_records WHERE record_id").
		WithArgs("d/t1-2").
		WillReturnRows(pgxmock.NewRows(journalColumns()).
			AddRow("t1", 2, 0.402, "t1_epoch_2_loss_0.4020", "d/t1-2", "d/t1-1", "/tmp/a.ckpt", true, created))

	rec, err := j.GetByRecordID(context.Background(), "d/t1-2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "t1", rec.Identity.RunSuffix)
	assert.Equal(t, 2, rec.Identity.Epoch)
	assert.Equal(t, "d/t1-1", rec.PredecessorRecordID)
	assert.True(t, rec.ArtifactAttached)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_GetMissing(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	mock.ExpectQuery("SELECT (.+) FROM checkpoint_records WHERE record_id").
		WithArgs("d/unknown").
		WillReturnRows(pgxmock.NewRows(journalColumns()))

	rec, err := j.GetByRecordID(context.Background(), "d/unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_ListRun(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM checkpoint_records WHERE run_suffix").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows(journalColumns()).
			AddRow("t1", 1, 0.534, "t1_epoch_1_loss_0.5340", "d/t1-1", "", "/tmp/1.ckpt", true, created).
			AddRow("t1", 2, 0.402, "t1_epoch_2_loss_0.4020", "d/t1-2", "d/t1-1", "/tmp/2.ckpt", true, created))

	recs, err := j.ListRun(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Empty(t, recs[0].PredecessorRecordID)
	assert.Equal(t, recs[0].RecordID, recs[1].PredecessorRecordID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_ListRuns(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	mock.ExpectQuery("SELECT DISTINCT run_suffix FROM checkpoint_records").
		WillReturnRows(pgxmock.NewRows([]string{"run_suffix"}).AddRow("gan").AddRow("vae"))

	runs, err := j.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gan", "vae"}, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_ListPendingUploads(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM checkpoint_records WHERE artifact_attached").
		WillReturnRows(pgxmock.NewRows(journalColumns()).
			AddRow("t1", 3, 0.31, "t1_epoch_3_loss_0.3100", "d/t1-3", "d/t1-2", "/tmp/3.ckpt", false, created))

	recs, err := j.ListPendingUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].ArtifactAttached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_Migrate(t *testing.T) {
	j, mock := newTestPostgresJournal(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checkpoint_records").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, j.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
