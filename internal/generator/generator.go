// Package generator runs the circuit-generation loop for one order: draw a
// batch of candidate circuits sized to the remaining quota, filter it through
// the restriction chain, deliver the survivors to every sink, repeat.
//
// The loop is a bounded state machine. It starts in StateSampling and ends in
// StateAccepted when the quota is met exactly, in StateExhausted when the
// batch or reject-streak limit is hit, or in StateFailed when a sink or the
// context aborts it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/nvandessel/pathsim/internal/sampling"
	"github.com/nvandessel/pathsim/internal/weighting"
)

// State is the generator's position in its state machine.
type State int

const (
	StateSampling State = iota
	StateAccepted
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StateAccepted:
		return "accepted"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrExhausted is wrapped by ExhaustedError.
	ErrExhausted = errors.New("restrictions rejected too many candidate circuits")

	// ErrInvalidQuota is returned for orders asking for fewer than one circuit.
	ErrInvalidQuota = errors.New("order quota must be positive")

	// ErrMissingPool is returned when an unpinned role has no pool.
	ErrMissingPool = errors.New("no pool for unpinned role")
)

// ExhaustedError describes an order abandoned by the retry limits.
type ExhaustedError struct {
	Order   int
	Quota   int
	Created int
	Batches int
	Drawn   int
	Reason  string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("order %d: %d of %d circuits after %d batches (%d candidates drawn): %s: %v",
		e.Order, e.Created, e.Quota, e.Batches, e.Drawn, e.Reason, ErrExhausted)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// Limits bound the retry loop.
type Limits struct {
	// MaxBatches caps the number of batches drawn for one order.
	MaxBatches int

	// MaxRejectStreak caps consecutive batches that accept nothing.
	MaxRejectStreak int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxBatches:      constants.DefaultMaxBatches,
		MaxRejectStreak: constants.DefaultMaxRejectStreak,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxBatches <= 0 {
		l.MaxBatches = d.MaxBatches
	}
	if l.MaxRejectStreak <= 0 {
		l.MaxRejectStreak = d.MaxRejectStreak
	}
	return l
}

// Pools holds the weighted pool for each position. A pool may be nil only if
// every order run through the generator pins that position.
type Pools struct {
	Guard  *weighting.Pool
	Middle *weighting.Pool
	Exit   *weighting.Pool
}

// For returns the pool for p.
func (p Pools) For(pos models.Position) *weighting.Pool {
	switch pos {
	case models.PositionGuard:
		return p.Guard
	case models.PositionMiddle:
		return p.Middle
	case models.PositionExit:
		return p.Exit
	}
	return nil
}

// Config carries the generator's collaborators.
type Config struct {
	Predicates []restriction.Predicate
	Sinks      []Sink
	Observer   Observer
	Limits     Limits
}

// Generator produces circuits for orders. It is not safe for concurrent use:
// it owns its Source.
type Generator struct {
	pools      Pools
	src        sampling.Source
	predicates []restriction.Predicate
	sinks      []Sink
	observer   Observer
	limits     Limits
}

// New creates a generator drawing from pools with src.
func New(pools Pools, src sampling.Source, cfg Config) *Generator {
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Generator{
		pools:      pools,
		src:        src,
		predicates: cfg.Predicates,
		sinks:      cfg.Sinks,
		observer:   obs,
		limits:     cfg.Limits.withDefaults(),
	}
}

// Outcome summarizes one Generate call.
type Outcome struct {
	State   State
	Created int
	Batches int
	Drawn   int
}

// Generate runs order to completion. It returns an *ExhaustedError when the
// limits stop it; Outcome.Created never exceeds order.Quota.
func (g *Generator) Generate(ctx context.Context, order *models.Order) (Outcome, error) {
	start := time.Now()
	out, err := g.run(ctx, order)
	g.observer.OrderFinished(OrderEvent{
		Order:    order,
		State:    out.State,
		Created:  out.Created,
		Batches:  out.Batches,
		Drawn:    out.Drawn,
		Duration: time.Since(start),
		Err:      err,
	})
	return out, err
}

func (g *Generator) run(ctx context.Context, order *models.Order) (Outcome, error) {
	out := Outcome{State: StateSampling}

	if order.Quota <= 0 {
		out.State = StateFailed
		return out, fmt.Errorf("order %d: quota %d: %w", order.Index, order.Quota, ErrInvalidQuota)
	}
	for _, pos := range models.Positions {
		if order.Pinned(pos) == nil && g.pools.For(pos) == nil {
			out.State = StateFailed
			return out, fmt.Errorf("order %d: %s: %w", order.Index, pos, ErrMissingPool)
		}
	}

	streak := 0
	for out.Created < order.Quota {
		if err := ctx.Err(); err != nil {
			out.State = StateFailed
			return out, fmt.Errorf("order %d: %w", order.Index, err)
		}
		if reason := g.exhausted(out.Batches, streak); reason != "" {
			out.State = StateExhausted
			return out, &ExhaustedError{
				Order:   order.Index,
				Quota:   order.Quota,
				Created: out.Created,
				Batches: out.Batches,
				Drawn:   out.Drawn,
				Reason:  reason,
			}
		}

		need := order.Quota - out.Created
		candidates := g.draw(order, need)
		kept, rejections := restriction.Apply(g.predicates, candidates)

		out.Batches++
		out.Drawn += need

		batch := Batch{Order: order, Iteration: out.Batches, Circuits: kept}
		for _, sink := range g.sinks {
			if err := sink.Deliver(ctx, batch); err != nil {
				out.State = StateFailed
				return out, fmt.Errorf("order %d: delivering batch %d: %w", order.Index, out.Batches, err)
			}
		}
		out.Created += len(kept)

		if len(kept) == 0 {
			streak++
		} else {
			streak = 0
		}

		g.observer.BatchEvaluated(BatchEvent{
			Order:      order,
			Iteration:  out.Batches,
			Drawn:      need,
			Accepted:   len(kept),
			Created:    out.Created,
			Rejections: rejections,
		})
	}

	out.State = StateAccepted
	return out, nil
}

func (g *Generator) exhausted(batches, streak int) string {
	switch {
	case batches >= g.limits.MaxBatches:
		return fmt.Sprintf("batch limit %d reached", g.limits.MaxBatches)
	case streak >= g.limits.MaxRejectStreak:
		return fmt.Sprintf("%d consecutive batches accepted nothing", streak)
	}
	return ""
}

// draw builds n candidate circuits. Pinned roles repeat their relay; other
// roles are drawn independently with replacement, so nothing stops one relay
// from filling two roles unless a predicate rejects it.
func (g *Generator) draw(order *models.Order, n int) []models.Circuit {
	var hops [3][]*models.Relay
	for i, pos := range models.Positions {
		if pinned := order.Pinned(pos); pinned != nil {
			hops[i] = repeat(pinned, n)
		} else {
			hops[i] = g.pools.For(pos).DrawN(g.src, n)
		}
	}

	circuits := make([]models.Circuit, n)
	for i := range circuits {
		circuits[i] = models.Circuit{Guard: hops[0][i], Middle: hops[1][i], Exit: hops[2][i]}
	}
	return circuits
}

func repeat(r *models.Relay, n int) []*models.Relay {
	out := make([]*models.Relay, n)
	for i := range out {
		out[i] = r
	}
	return out
}
