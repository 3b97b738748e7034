package simulation

import (
	"fmt"
	"sync"

	"github.com/nvandessel/pathsim/internal/eligibility"
	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/weighting"
)

// anyPort keys the exit pool of orders without a destination.
const anyPort = 0

type cachedPool struct {
	pool *weighting.Pool
	err  error
}

// poolSet builds the guard and middle pools once and exit pools lazily, one
// per destination port. It is safe for concurrent use.
type poolSet struct {
	relays  []*models.Relay
	weights models.BandwidthWeights
	exitReq eligibility.Requirement

	guard  cachedPool
	middle cachedPool

	mu    sync.Mutex
	exits map[int]cachedPool
}

func newPoolSet(relays []*models.Relay, w models.BandwidthWeights, reqs map[models.Position]eligibility.Requirement) *poolSet {
	ps := &poolSet{
		relays:  relays,
		weights: w,
		exitReq: reqs[models.PositionExit],
		exits:   make(map[int]cachedPool),
	}
	ps.guard = ps.build(models.PositionGuard, eligibility.Filter(models.PositionGuard, relays, reqs[models.PositionGuard]))
	ps.middle = ps.build(models.PositionMiddle, eligibility.Filter(models.PositionMiddle, relays, reqs[models.PositionMiddle]))
	return ps
}

func (ps *poolSet) build(p models.Position, eligible []*models.Relay) cachedPool {
	pool, err := weighting.NewPool(p, eligible, ps.weights)
	return cachedPool{pool: pool, err: err}
}

func (ps *poolSet) exit(dest *models.Destination) cachedPool {
	port := anyPort
	if dest != nil {
		port = dest.Port
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if cp, ok := ps.exits[port]; ok {
		return cp
	}
	eligible := eligibility.Filter(models.PositionExit, eligibility.FilterExitPort(ps.relays, dest), ps.exitReq)
	cp := ps.build(models.PositionExit, eligible)
	ps.exits[port] = cp
	return cp
}

// forOrder returns the pools an order draws from. Pinned positions get no
// pool, and their eligibility is never checked.
func (ps *poolSet) forOrder(o *models.Order) (generator.Pools, error) {
	var pools generator.Pools
	if o.Guard == nil {
		if ps.guard.err != nil {
			return pools, ps.guard.err
		}
		pools.Guard = ps.guard.pool
	}
	if o.Middle == nil {
		if ps.middle.err != nil {
			return pools, ps.middle.err
		}
		pools.Middle = ps.middle.pool
	}
	if o.Exit == nil {
		cp := ps.exit(o.Destination)
		if cp.err != nil {
			return pools, fmt.Errorf("destination %s: %w", o.Destination, cp.err)
		}
		pools.Exit = cp.pool
	}
	return pools, nil
}
