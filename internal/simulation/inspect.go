package simulation

import (
	"sort"

	"github.com/nvandessel/pathsim/internal/eligibility"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/snapshot"
	"github.com/nvandessel/pathsim/internal/weighting"
)

// PoolEntry is one relay's share of a position's pool.
type PoolEntry struct {
	Relay       *models.Relay
	Coefficient float64
	Weight      float64
	Probability float64
}

// PoolSummary describes the pool an order without pins would draw from.
type PoolSummary struct {
	Position models.Position
	// Entries are sorted by descending probability.
	Entries []PoolEntry
	Err     error
}

// Find returns the entry for r, if r is in the pool.
func (ps PoolSummary) Find(r *models.Relay) (PoolEntry, bool) {
	for _, e := range ps.Entries {
		if e.Relay == r {
			return e, true
		}
	}
	return PoolEntry{}, false
}

// InspectPools builds the guard, middle and exit pools of snap the same way
// a run does. The exit pool is filtered for dest when dest is not nil.
func InspectPools(snap *snapshot.Snapshot, reqs map[models.Position]eligibility.Requirement, dest *models.Destination) ([]PoolSummary, error) {
	if snap == nil || len(snap.Relays) == 0 {
		return nil, ErrNoSnapshot
	}

	ps := newPoolSet(snap.Relays, snap.Weights, reqs)
	pools := []cachedPool{ps.guard, ps.middle, ps.exit(dest)}

	out := make([]PoolSummary, len(models.Positions))
	for i, pos := range models.Positions {
		out[i] = summarize(pos, pools[i], snap.Weights)
	}
	return out, nil
}

func summarize(pos models.Position, cp cachedPool, w models.BandwidthWeights) PoolSummary {
	sum := PoolSummary{Position: pos, Err: cp.err}
	if cp.err != nil {
		return sum
	}
	sum.Entries = make([]PoolEntry, len(cp.pool.Relays))
	for i, r := range cp.pool.Relays {
		// NewPool already succeeded for every relay, so these cannot fail.
		c, _ := weighting.Coefficient(w, pos, r.Flags)
		raw, _ := weighting.RawWeight(r, pos, w)
		sum.Entries[i] = PoolEntry{
			Relay:       r,
			Coefficient: c,
			Weight:      raw,
			Probability: cp.pool.Probabilities[i],
		}
	}
	sort.SliceStable(sum.Entries, func(a, b int) bool {
		return sum.Entries[a].Probability > sum.Entries[b].Probability
	})
	return sum
}
