package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ckpt-cli/internal/model"
)

// SQLiteJournal implements Journal using modernc.org/sqlite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteJournal{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoint_records (
	id                    TEXT PRIMARY KEY,
	run_suffix            TEXT NOT NULL,
	epoch                 INTEGER NOT NULL,
	loss                  REAL NOT NULL,
	name                  TEXT NOT NULL,
	record_id             TEXT NOT NULL UNIQUE,
	predecessor_record_id TEXT,
	artifact_path         TEXT NOT NULL,
	artifact_attached     INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL,
	UNIQUE (run_suffix, epoch)
);

CREATE INDEX IF NOT EXISTS idx_checkpoint_records_run ON checkpoint_records(run_suffix, epoch);
CREATE INDEX IF NOT EXISTS idx_checkpoint_records_pending ON checkpoint_records(artifact_attached);
`

func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Append(ctx context.Context, rec model.CheckpointRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO checkpoint_records
		 (id, run_suffix, epoch, loss, name, record_id, predecessor_record_id, artifact_path, artifact_attached, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		rec.Identity.RunSuffix,
		rec.Identity.Epoch,
		rec.Identity.Loss,
		rec.Identity.Name,
		rec.RecordID,
		rec.PredecessorRecordID,
		rec.LocalArtifactPath,
		boolToInt(rec.ArtifactAttached),
		rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append record %s", rec.Identity.Name)
}

func (j *SQLiteJournal) MarkArtifactAttached(ctx context.Context, recordID string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE checkpoint_records SET artifact_attached = 1 WHERE record_id = ?`, recordID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark attached %s", recordID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: record %s not found", recordID)
	}
	return nil
}

const sqliteSelectCols = `run_suffix, epoch, loss, name, record_id, predecessor_record_id, artifact_path, artifact_attached, created_at`

func (j *SQLiteJournal) GetByRecordID(ctx context.Context, recordID string) (*model.CheckpointRecord, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM checkpoint_records WHERE record_id = ?`, recordID)
	rec, err := scanSQLiteRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", recordID)
	}
	return rec, nil
}

func (j *SQLiteJournal) ListRun(ctx context.Context, runSuffix string) ([]model.CheckpointRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM checkpoint_records WHERE run_suffix = ? ORDER BY epoch`, runSuffix)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run %s", runSuffix)
	}
	return collectSQLiteRecords(rows)
}

func (j *SQLiteJournal) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT run_suffix FROM checkpoint_records ORDER BY run_suffix`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var suffix string
		if err := rows.Scan(&suffix); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run suffix")
		}
		runs = append(runs, suffix)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (j *SQLiteJournal) ListPendingUploads(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM checkpoint_records WHERE artifact_attached = 0 ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending uploads")
	}
	return collectSQLiteRecords(rows)
}

func (j *SQLiteJournal) ListAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM checkpoint_records ORDER BY run_suffix, epoch`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list all")
	}
	return collectSQLiteRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*model.CheckpointRecord, error) {
	var (
		rec      model.CheckpointRecord
		pred     sql.NullString
		attached int
		created  time.Time
	)
	err := row.Scan(
		&rec.Identity.RunSuffix,
		&rec.Identity.Epoch,
		&rec.Identity.Loss,
		&rec.Identity.Name,
		&rec.RecordID,
		&pred,
		&rec.LocalArtifactPath,
		&attached,
		&created,
	)
	if err != nil {
		return nil, err
	}
	rec.PredecessorRecordID = pred.String
	rec.ArtifactAttached = attached != 0
	rec.CreatedAt = created.UTC()
	return &rec, nil
}

func collectSQLiteRecords(rows *sql.Rows) ([]model.CheckpointRecord, error) {
	defer rows.Close()

	var out []model.CheckpointRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
