// Package monitoring derives health metrics from the local record journal.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/journal"
)

// MetricsSnapshot holds a point-in-time view of checkpoint logging health.
type MetricsSnapshot struct {
	RecordsTotal    int `json:"records_total"`
	RecordsPending  int `json:"records_pending"`
	RunsTotal       int `json:"runs_total"`
	LongestChainLen int `json:"longest_chain_len"`

	// LongestChainRun names the run with the most checkpoints.
	LongestChainRun string `json:"longest_chain_run,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the journal.
type Collector struct {
	jrnl journal.Journal
}

// NewCollector creates a metrics collector over the given journal.
func NewCollector(j journal.Journal) *Collector {
	return &Collector{jrnl: j}
}

// Collect gathers a snapshot of journal-wide metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	recs, err := c.jrnl.ListAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list records")
	}
	snap.RecordsTotal = len(recs)

	chains := make(map[string]int)
	for _, r := range recs {
		chains[r.Identity.RunSuffix]++
		if !r.ArtifactAttached {
			snap.RecordsPending++
		}
	}
	snap.RunsTotal = len(chains)
	for run, n := range chains {
		if n > snap.LongestChainLen {
			snap.LongestChainLen = n
			snap.LongestChainRun = run
		}
	}

	return snap, nil
}
