// Package provenance tracks checkpoint lineage as a forest of per-run chains.
// Each record links to at most one predecessor, the immediately prior save in
// the same run, so lineage queries never traverse a general DAG.
package provenance

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/model"
)

// Graph maps checkpoint identities to published records, one chain per run
// suffix. Register calls for the same run are serialized by a per-run lock;
// cross-run entries never interact.
type Graph struct {
	mu   sync.Mutex
	runs map[string]*chain
}

type chain struct {
	mu      sync.Mutex
	byEpoch map[int]model.CheckpointRecord
}

// New creates an empty provenance graph.
func New() *Graph {
	return &Graph{runs: make(map[string]*chain)}
}

func (g *Graph) chainFor(runSuffix string) *chain {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.runs[runSuffix]
	if !ok {
		c = &chain{byEpoch: make(map[int]model.CheckpointRecord)}
		g.runs[runSuffix] = c
	}
	return c
}

// Register appends rec to its run's chain. It fails with ErrDuplicateIdentity
// if the identity is already present and with ErrMissingPredecessor if
// rec claims a continuation (epoch > 1) whose predecessor is not yet
// registered; a predecessor must exist before any successor references it.
// The graph is unchanged after a failed call.
func (g *Graph) Register(rec model.CheckpointRecord) error {
	id := rec.Identity
	c := g.chainFor(id.RunSuffix)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byEpoch[id.Epoch]; exists {
		return eris.Wrapf(model.ErrDuplicateIdentity, "provenance: %s already registered", id.Name)
	}
	if id.Epoch > 1 {
		if _, ok := c.byEpoch[id.Epoch-1]; !ok {
			return eris.Wrapf(model.ErrMissingPredecessor,
				"provenance: run %s epoch %d registered before epoch %d", id.RunSuffix, id.Epoch, id.Epoch-1)
		}
	}

	c.byEpoch[id.Epoch] = rec
	return nil
}

// Contains reports whether an identity for (runSuffix, epoch) is registered.
func (g *Graph) Contains(runSuffix string, epoch int) bool {
	c := g.chainFor(runSuffix)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byEpoch[epoch]
	return ok
}

// LookupPredecessor returns the record for epoch-1 in the same run, if any.
func (g *Graph) LookupPredecessor(runSuffix string, epoch int) (model.CheckpointRecord, bool) {
	c := g.chainFor(runSuffix)
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byEpoch[epoch-1]
	return rec, ok
}

// Run returns the chain for runSuffix ordered by epoch.
func (g *Graph) Run(runSuffix string) []model.CheckpointRecord {
	c := g.chainFor(runSuffix)
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.CheckpointRecord, 0, len(c.byEpoch))
	for _, rec := range c.byEpoch {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.Epoch < out[j].Identity.Epoch })
	return out
}

// Load replays previously journaled records into the graph, e.g. when
// resuming a run after a process restart. Records are applied in epoch order
// per run so the no-forward-reference invariant holds during replay.
func (g *Graph) Load(recs []model.CheckpointRecord) error {
	byRun := make(map[string][]model.CheckpointRecord)
	for _, rec := range recs {
		byRun[rec.Identity.RunSuffix] = append(byRun[rec.Identity.RunSuffix], rec)
	}
	for _, runRecs := range byRun {
		sort.Slice(runRecs, func(i, j int) bool { return runRecs[i].Identity.Epoch < runRecs[j].Identity.Epoch })
		for _, rec := range runRecs {
			if err := g.Register(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
