package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/pathsim/internal/config"
	"github.com/nvandessel/pathsim/internal/eligibility"
	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/orders"
	"github.com/nvandessel/pathsim/internal/snapshot"
)

// ErrNoSnapshot is returned when a scenario has no snapshot or no relays.
var ErrNoSnapshot = errors.New("snapshot has no relays")

// Scenario defines a complete simulation run.
type Scenario struct {
	Name     string
	Snapshot *snapshot.Snapshot
	Orders   []orders.Spec

	// Seed for the random source. Zero picks a time-based seed.
	Seed uint64

	// Requirements holds the flag constraints per position. Missing
	// positions are unconstrained.
	Requirements map[models.Position]eligibility.Requirement

	SubnetRestriction bool
	FamilyRestriction bool

	Limits generator.Limits

	// Parallelism > 1 runs orders concurrently, each with its own stream.
	Parallelism int
}

// NewScenario builds a scenario from loaded inputs and the user configuration.
func NewScenario(name string, snap *snapshot.Snapshot, specs []orders.Spec, cfg *config.PathsimConfig) (Scenario, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	reqs, err := cfg.Requirements()
	if err != nil {
		return Scenario{}, fmt.Errorf("selection constraints: %w", err)
	}
	return Scenario{
		Name:              name,
		Snapshot:          snap,
		Orders:            specs,
		Seed:              cfg.Simulation.Seed,
		Requirements:      reqs,
		SubnetRestriction: cfg.Selection.SubnetRestriction,
		FamilyRestriction: cfg.Selection.FamilyRestriction,
		Limits:            cfg.Limits(),
		Parallelism:       cfg.Simulation.Parallelism,
	}, nil
}

// OrderResult captures the outcome of a single order.
type OrderResult struct {
	Index   int
	Line    int
	Quota   int
	State   generator.State
	Created int
	Batches int
	Drawn   int
	Err     error
}

// Result captures a whole run.
type Result struct {
	RunID     string
	Name      string
	Seed      uint64
	Orders    []OrderResult
	Delivered int
	Families  int
	Duration  time.Duration
}

// Failed returns the number of orders that did not meet their quota.
func (r *Result) Failed() int {
	n := 0
	for _, o := range r.Orders {
		if o.Err != nil {
			n++
		}
	}
	return n
}
