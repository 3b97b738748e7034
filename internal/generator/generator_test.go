package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/nvandessel/pathsim/internal/sampling"
	"github.com/nvandessel/pathsim/internal/weighting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uniform = models.BandwidthWeights{
	Wgg: constants.WeightScale, Wgd: constants.WeightScale, Wgm: constants.WeightScale,
	Wmg: constants.WeightScale, Wme: constants.WeightScale, Wmd: constants.WeightScale, Wmm: constants.WeightScale,
	Weg: constants.WeightScale, Wee: constants.WeightScale, Wed: constants.WeightScale, Wem: constants.WeightScale,
}

func makeRelays(prefix string, addrs ...string) []*models.Relay {
	relays := make([]*models.Relay, len(addrs))
	for i, a := range addrs {
		name := fmt.Sprintf("%s%d", prefix, i)
		relays[i] = &models.Relay{Nickname: name, Fingerprint: name, Digest: name, Address: a, Bandwidth: 100}
	}
	return relays
}

func makePool(t *testing.T, pos models.Position, relays []*models.Relay) *weighting.Pool {
	t.Helper()
	p, err := weighting.NewPool(pos, relays, uniform)
	require.NoError(t, err)
	return p
}

func distinctPools(t *testing.T) Pools {
	t.Helper()
	return Pools{
		Guard:  makePool(t, models.PositionGuard, makeRelays("g", "1.1.0.1", "1.2.0.1", "1.3.0.1")),
		Middle: makePool(t, models.PositionMiddle, makeRelays("m", "2.1.0.1", "2.2.0.1", "2.3.0.1")),
		Exit:   makePool(t, models.PositionExit, makeRelays("e", "3.1.0.1", "3.2.0.1", "3.3.0.1")),
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	batches []BatchEvent
	orders  []OrderEvent
}

func (r *recordingObserver) BatchEvaluated(ev BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ev)
}

func (r *recordingObserver) OrderFinished(ev OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, ev)
}

func TestGenerate_QuotaFromProductSpace(t *testing.T) {
	pools := distinctPools(t)
	counter := NewCountingSink()
	collector := &CollectingSink{}

	g := New(pools, sampling.NewSource(1), Config{Sinks: []Sink{counter, collector}})
	out, err := g.Generate(context.Background(), &models.Order{Quota: 5})
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, out.State)
	assert.Equal(t, 5, out.Created)
	assert.Equal(t, 1, out.Batches, "without restrictions the first batch fills the quota")
	assert.Equal(t, 5, counter.Total())

	circuits := collector.Circuits()
	require.Len(t, circuits, 5)
	for _, c := range circuits {
		assert.Contains(t, pools.Guard.Relays, c.Guard)
		assert.Contains(t, pools.Middle.Relays, c.Middle)
		assert.Contains(t, pools.Exit.Relays, c.Exit)
	}
}

func TestGenerate_RelayMayFillSeveralRoles(t *testing.T) {
	only := makeRelays("r", "5.5.5.5")
	pools := Pools{
		Guard:  makePool(t, models.PositionGuard, only),
		Middle: makePool(t, models.PositionMiddle, only),
		Exit:   makePool(t, models.PositionExit, only),
	}

	collector := &CollectingSink{}
	out, err := New(pools, sampling.NewSource(3), Config{Sinks: []Sink{collector}}).
		Generate(context.Background(), &models.Order{Quota: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Created)
	for _, c := range collector.Circuits() {
		assert.Same(t, only[0], c.Guard)
		assert.Same(t, c.Guard, c.Middle)
		assert.Same(t, c.Middle, c.Exit)
	}

	// Only a predicate that happens to match rejects the overlap.
	_, err = New(pools, sampling.NewSource(3), Config{
		Predicates: []restriction.Predicate{restriction.SubnetPredicate()},
		Limits:     Limits{MaxBatches: 10, MaxRejectStreak: 3},
	}).Generate(context.Background(), &models.Order{Quota: 2})
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestGenerate_NeverOvershootsUnderRejection(t *testing.T) {
	// Every pool shares relays from two /16s, so roughly three quarters of
	// candidates collide and the loop needs several batches.
	shared := makeRelays("r", "10.0.0.1", "10.1.0.1", "10.2.0.1", "10.0.0.2", "10.3.0.1")
	pools := Pools{
		Guard:  makePool(t, models.PositionGuard, shared),
		Middle: makePool(t, models.PositionMiddle, shared),
		Exit:   makePool(t, models.PositionExit, shared),
	}
	counter := NewCountingSink()
	collector := &CollectingSink{}
	obs := &recordingObserver{}

	g := New(pools, sampling.NewSource(99), Config{
		Predicates: []restriction.Predicate{restriction.SubnetPredicate()},
		Sinks:      []Sink{counter, collector},
		Observer:   obs,
	})

	order := &models.Order{Index: 3, Quota: 40}
	out, err := g.Generate(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, 40, out.Created)
	assert.Equal(t, 40, counter.Count(3))
	assert.Equal(t, out.Batches, counter.Batches())
	assert.Greater(t, out.Batches, 1)
	assert.GreaterOrEqual(t, out.Drawn, 40)

	for _, c := range collector.Circuits() {
		hops := c.Relays()
		assert.NotEqual(t, restriction.Subnet16(hops[0].Address), restriction.Subnet16(hops[1].Address))
		assert.NotEqual(t, restriction.Subnet16(hops[0].Address), restriction.Subnet16(hops[2].Address))
		assert.NotEqual(t, restriction.Subnet16(hops[1].Address), restriction.Subnet16(hops[2].Address))
	}

	// Each batch draws exactly the remaining shortfall.
	require.Len(t, obs.batches, out.Batches)
	created := 0
	for _, ev := range obs.batches {
		assert.Equal(t, 40-created, ev.Drawn)
		created += ev.Accepted
		assert.Equal(t, created, ev.Created)
	}
	require.Len(t, obs.orders, 1)
	assert.Equal(t, StateAccepted, obs.orders[0].State)
	assert.NoError(t, obs.orders[0].Err)
}

func TestGenerate_ExhaustsOnTotalRejection(t *testing.T) {
	same := makeRelays("s", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	pools := Pools{
		Guard:  makePool(t, models.PositionGuard, same),
		Middle: makePool(t, models.PositionMiddle, same),
		Exit:   makePool(t, models.PositionExit, same),
	}
	obs := &recordingObserver{}

	g := New(pools, sampling.NewSource(5), Config{
		Predicates: []restriction.Predicate{restriction.SubnetPredicate()},
		Observer:   obs,
		Limits:     Limits{MaxBatches: 50, MaxRejectStreak: 7},
	})

	out, err := g.Generate(context.Background(), &models.Order{Index: 2, Quota: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Order)
	assert.Equal(t, 0, exhausted.Created)
	assert.Equal(t, 7, exhausted.Batches)
	assert.Equal(t, 21, exhausted.Drawn)
	assert.Contains(t, err.Error(), "consecutive batches")

	assert.Equal(t, StateExhausted, out.State)
	require.Len(t, obs.orders, 1)
	assert.Equal(t, StateExhausted, obs.orders[0].State)
}

// keepFirst accepts at most one circuit per batch.
type keepFirst struct{}

func (keepFirst) Name() string { return "keep-first" }

func (keepFirst) Filter(circuits []models.Circuit) []models.Circuit {
	if len(circuits) == 0 {
		return circuits
	}
	return circuits[:1]
}

func TestGenerate_BatchLimit(t *testing.T) {
	counter := NewCountingSink()
	g := New(distinctPools(t), sampling.NewSource(1), Config{
		Predicates: []restriction.Predicate{keepFirst{}},
		Sinks:      []Sink{counter},
		Limits:     Limits{MaxBatches: 3},
	})

	out, err := g.Generate(context.Background(), &models.Order{Quota: 10})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "batch limit 3")
	assert.Equal(t, 3, out.Created)
	assert.Equal(t, 3, counter.Total())
	// 10 + 9 + 8 candidates
	assert.Equal(t, 27, out.Drawn)
}

func TestGenerate_PinnedRoles(t *testing.T) {
	pools := distinctPools(t)
	guard := &models.Relay{Nickname: "pinned", Address: "9.9.9.9"}
	collector := &CollectingSink{}

	// The guard pool is nil; the pinned guard means it is never consulted.
	g := New(Pools{Middle: pools.Middle, Exit: pools.Exit}, sampling.NewSource(8), Config{
		Sinks: []Sink{collector},
	})

	out, err := g.Generate(context.Background(), &models.Order{Quota: 6, Guard: guard})
	require.NoError(t, err)
	assert.Equal(t, 6, out.Created)
	for _, c := range collector.Circuits() {
		assert.Same(t, guard, c.Guard)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	pools := distinctPools(t)
	run := func() []models.Circuit {
		collector := &CollectingSink{}
		g := New(pools, sampling.NewSource(1234), Config{Sinks: []Sink{collector}})
		_, err := g.Generate(context.Background(), &models.Order{Quota: 20})
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), &models.Order{Index: 1, Quota: 20})
		require.NoError(t, err)
		return collector.Circuits()
	}
	assert.Equal(t, run(), run())
}

func TestGenerate_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	g := New(distinctPools(t), sampling.NewSource(1), Config{
		Sinks: []Sink{SinkFunc(func(context.Context, Batch) error { return boom })},
	})

	out, err := g.Generate(context.Background(), &models.Order{Quota: 2})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, out.Created)
}

func TestGenerate_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := New(distinctPools(t), sampling.NewSource(1), Config{})
	out, err := g.Generate(ctx, &models.Order{Quota: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, out.State)
}

func TestGenerate_InvalidOrders(t *testing.T) {
	g := New(Pools{}, sampling.NewSource(1), Config{})

	_, err := g.Generate(context.Background(), &models.Order{Quota: 0})
	assert.ErrorIs(t, err, ErrInvalidQuota)

	_, err = g.Generate(context.Background(), &models.Order{Quota: 1})
	assert.ErrorIs(t, err, ErrMissingPool)
}

func TestLimits_Defaults(t *testing.T) {
	l := Limits{MaxBatches: -1}.withDefaults()
	assert.Equal(t, DefaultLimits(), l)

	l = Limits{MaxBatches: 5, MaxRejectStreak: 2}.withDefaults()
	assert.Equal(t, Limits{MaxBatches: 5, MaxRejectStreak: 2}, l)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "sampling", StateSampling.String())
	assert.Equal(t, "accepted", StateAccepted.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "failed", StateFailed.String())
}
