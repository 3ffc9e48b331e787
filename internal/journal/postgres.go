package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/db"
	"github.com/sells-group/ckpt-cli/internal/model"
)

// PostgresJournal implements Journal using pgxpool, for deployments where
// several training hosts share one mirror.
type PostgresJournal struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresJournal with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresJournal, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresJournal{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool db.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoint_records (
	id                    TEXT PRIMARY KEY,
	run_suffix            TEXT NOT NULL,
	epoch                 INTEGER NOT NULL,
	loss                  DOUBLE PRECISION NOT NULL,
	name                  TEXT NOT NULL,
	record_id             TEXT NOT NULL UNIQUE,
	predecessor_record_id TEXT,
	artifact_path         TEXT NOT NULL,
	artifact_attached     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL,
	UNIQUE (run_suffix, epoch)
);

CREATE INDEX IF NOT EXISTS idx_checkpoint_records_run ON checkpoint_records(run_suffix, epoch);
CREATE INDEX IF NOT EXISTS idx_checkpoint_records_pending ON checkpoint_records(artifact_attached);
`

func (j *PostgresJournal) Migrate(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (j *PostgresJournal) Close() error {
	if j.closeFn != nil {
		j.closeFn()
	}
	return nil
}

func (j *PostgresJournal) Append(ctx context.Context, rec model.CheckpointRecord) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO checkpoint_records
		 (id, run_suffix, epoch, loss, name, record_id, predecessor_record_id, artifact_path, artifact_attached, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(),
		rec.Identity.RunSuffix,
		rec.Identity.Epoch,
		rec.Identity.Loss,
		rec.Identity.Name,
		rec.RecordID,
		nullIfEmpty(rec.PredecessorRecordID),
		rec.LocalArtifactPath,
		rec.ArtifactAttached,
		rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append record %s", rec.Identity.Name)
}

func (j *PostgresJournal) MarkArtifactAttached(ctx context.Context, recordID string) error {
	tag, err := j.pool.Exec(ctx,
		`UPDATE checkpoint_records SET artifact_attached = TRUE WHERE record_id = $1`, recordID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark attached %s", recordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: record %s not found", recordID)
	}
	return nil
}

const postgresSelectCols = `run_suffix, epoch, loss, name, record_id, COALESCE(predecessor_record_id, ''), artifact_path, artifact_attached, created_at`

func (j *PostgresJournal) GetByRecordID(ctx context.Context, recordID string) (*model.CheckpointRecord, error) {
	row := j.pool.QueryRow(ctx,
		`SELECT `+postgresSelectCols+` FROM checkpoint_records WHERE record_id = $1`, recordID)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", recordID)
	}
	return rec, nil
}

func (j *PostgresJournal) ListRun(ctx context.Context, runSuffix string) ([]model.CheckpointRecord, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+postgresSelectCols+` FROM checkpoint_records WHERE run_suffix = $1 ORDER BY epoch`, runSuffix)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run %s", runSuffix)
	}
	return collectPostgresRecords(rows)
}

func (j *PostgresJournal) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT DISTINCT run_suffix FROM checkpoint_records ORDER BY run_suffix`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var suffix string
		if err := rows.Scan(&suffix); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run suffix")
		}
		runs = append(runs, suffix)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (j *PostgresJournal) ListPendingUploads(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+postgresSelectCols+` FROM checkpoint_records WHERE artifact_attached = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending uploads")
	}
	return collectPostgresRecords(rows)
}

func (j *PostgresJournal) ListAll(ctx context.Context) ([]model.CheckpointRecord, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+postgresSelectCols+` FROM checkpoint_records ORDER BY run_suffix, epoch`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list all")
	}
	return collectPostgresRecords(rows)
}

func scanPostgresRecord(row pgx.Row) (*model.CheckpointRecord, error) {
	var (
		rec     model.CheckpointRecord
		created time.Time
	)
	err := row.Scan(
		&rec.Identity.RunSuffix,
		&rec.Identity.Epoch,
		&rec.Identity.Loss,
		&rec.Identity.Name,
		&rec.RecordID,
		&rec.PredecessorRecordID,
		&rec.LocalArtifactPath,
		&rec.ArtifactAttached,
		&created,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = created.UTC()
	return &rec, nil
}

func collectPostgresRecords(rows pgx.Rows) ([]model.CheckpointRecord, error) {
	defer rows.Close()

	var out []model.CheckpointRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
