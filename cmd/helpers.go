package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ckpt-cli/internal/checkpoint"
	"github.com/sells-group/ckpt-cli/internal/journal"
	"github.com/sells-group/ckpt-cli/internal/model"
	"github.com/sells-group/ckpt-cli/internal/publish"
	"github.com/sells-group/ckpt-cli/internal/resilience"
	"github.com/sells-group/ckpt-cli/pkg/recordstore"
)

// initJournal opens the configured journal backend and runs migrations.
func initJournal(ctx context.Context) (journal.Journal, error) {
	var (
		j   journal.Journal
		err error
	)
	switch cfg.Journal.Driver {
	case "postgres":
		j, err = journal.NewPostgres(ctx, cfg.Journal.DatabaseURL)
	case "sqlite", "":
		j, err = journal.NewSQLite(cfg.Journal.Path)
	default:
		return nil, eris.Errorf("unknown journal driver %q", cfg.Journal.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

// newStoreClient builds the record store client from config.
func newStoreClient() recordstore.Client {
	return recordstore.NewClient(
		cfg.Store.BaseURL,
		cfg.Store.Token,
		recordstore.WithRateLimit(cfg.Store.RateLimit),
	)
}

// initCheckpointLogger wires journal, store client, and retry policy into a
// checkpoint logger.
func initCheckpointLogger(ctx context.Context, j journal.Journal) (*checkpoint.Logger, error) {
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.Publish.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Publish.InitialBackoffMS) * time.Millisecond,
	}
	uploadRetry := resilience.RetryConfig{
		MaxAttempts:    cfg.Publish.UploadMaxAttempts,
		InitialBackoff: time.Duration(cfg.Publish.InitialBackoffMS) * time.Millisecond,
	}

	return checkpoint.New(ctx, checkpoint.Config{
		BaseDir:         cfg.Artifact.BaseDir,
		CollectionPath:  cfg.Store.CollectionPath,
		ScriptPath:      cfg.Lineage.ScriptPath,
		DatasetRecordID: cfg.Lineage.DatasetRecordID,
	}, newStoreClient(),
		checkpoint.WithJournal(j),
		checkpoint.WithPublishOptions(
			publish.WithRetryConfig(retry),
			publish.WithUploadRetryConfig(uploadRetry),
		),
	)
}

// loadHyperparams reads a flat name→value mapping from a YAML file.
func loadHyperparams(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read hyperparameters %s", path)
	}
	var hp map[string]any
	if err := yaml.Unmarshal(raw, &hp); err != nil {
		return nil, eris.Wrapf(err, "parse hyperparameters %s", path)
	}
	return hp, nil
}

// loadCapturedVars reads an ordered sequence of name/value pairs from a YAML
// file of the form `- name: lr\n  value: 0.001`.
func loadCapturedVars(path string) ([]model.CapturedVar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read captured vars %s", path)
	}
	var vars []model.CapturedVar
	if err := yaml.Unmarshal(raw, &vars); err != nil {
		return nil, eris.Wrapf(err, "parse captured vars %s", path)
	}
	return vars, nil
}
