package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/nvandessel/pathsim/internal/sampling"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID        string
	Name      string
	Seed      uint64
	Orders    int
	Relays    int
	StartedAt time.Time
}

// Recorder persists runs. Sink must return a concurrency-safe sink when the
// scenario runs orders in parallel.
type Recorder interface {
	BeginRun(ctx context.Context, run RunInfo) error
	Sink(runID string) generator.Sink
	FinishOrder(ctx context.Context, runID string, res OrderResult) error
	FinishRun(ctx context.Context, runID string, delivered int, finishedAt time.Time) error
}

// Runner executes scenarios.
type Runner struct {
	logger    *slog.Logger
	sinks     []generator.Sink
	observers generator.Observers
	recorder  Recorder
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithSink adds a sink that receives every batch of every order.
func WithSink(s generator.Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, s) }
}

// WithObserver adds a generator observer.
func WithObserver(o generator.Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithRecorder persists each run through rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run holds everything shared by the orders of one Run call.
type run struct {
	id       string
	resolver *restriction.Resolver
	pools    *poolSet
	cfg      generator.Config
}

// Run executes every order of sc. The returned error combines the failures
// of individual orders; the Result is non-nil whenever the run started.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Result, error) {
	if sc.Snapshot == nil || len(sc.Snapshot.Relays) == 0 {
		return nil, ErrNoSnapshot
	}

	start := r.now()
	seed := sc.Seed
	if seed == 0 {
		seed = uint64(start.UnixNano())
	}

	rn := &run{
		id:       uuid.NewString(),
		resolver: restriction.NewResolver(sc.Snapshot.Relays),
		pools:    newPoolSet(sc.Snapshot.Relays, sc.Snapshot.Weights, sc.Requirements),
	}
	result := &Result{RunID: rn.id, Name: sc.Name, Seed: seed}

	var preds []restriction.Predicate
	if sc.SubnetRestriction {
		preds = append(preds, restriction.SubnetPredicate())
	}
	if sc.FamilyRestriction {
		fm, stats := restriction.BuildFamilyMap(sc.Snapshot.Descriptors, rn.resolver)
		preds = append(preds, restriction.FamilyPredicate(fm))
		result.Families = stats.Groups
		r.logger.Debug("family map built",
			"groups", stats.Groups,
			"members", stats.Members,
			"skipped", stats.Skipped,
			"unresolved", len(stats.Unresolved))
	}

	sinks := append([]generator.Sink(nil), r.sinks...)
	if r.recorder != nil {
		if err := r.recorder.BeginRun(ctx, RunInfo{
			ID:        rn.id,
			Name:      sc.Name,
			Seed:      seed,
			Orders:    len(sc.Orders),
			Relays:    len(sc.Snapshot.Relays),
			StartedAt: start,
		}); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
		sinks = append(sinks, r.recorder.Sink(rn.id))
	}
	rn.cfg = generator.Config{
		Predicates: preds,
		Sinks:      sinks,
		Observer:   r.observers,
		Limits:     sc.Limits,
	}

	r.logger.Info("run started",
		"run", rn.id,
		"name", sc.Name,
		"seed", seed,
		"orders", len(sc.Orders),
		"relays", len(sc.Snapshot.Relays))

	result.Orders = make([]OrderResult, len(sc.Orders))
	if sc.Parallelism > 1 {
		r.runParallel(ctx, rn, sc, seed, result.Orders)
	} else {
		src := sampling.NewSource(seed)
		for i, spec := range sc.Orders {
			result.Orders[i] = r.runOrder(ctx, rn, i+1, spec.Line, spec.Resolve, src)
		}
	}

	var errs error
	for _, o := range result.Orders {
		result.Delivered += o.Created
		if o.Err != nil {
			errs = multierr.Append(errs, o.Err)
		}
	}
	result.Duration = r.now().Sub(start)

	if r.recorder != nil {
		errs = multierr.Append(errs, r.recorder.FinishRun(ctx, rn.id, result.Delivered, r.now()))
	}

	r.logger.Info("run finished",
		"run", rn.id,
		"delivered", result.Delivered,
		"failed", result.Failed(),
		"elapsed", result.Duration)

	return result, errs
}

func (r *Runner) runParallel(ctx context.Context, rn *run, sc Scenario, seed uint64, out []OrderResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.Parallelism)
	for i, spec := range sc.Orders {
		index := i + 1
		g.Go(func() error {
			src := sampling.NewStream(seed, uint64(index))
			out[i] = r.runOrder(gctx, rn, index, spec.Line, spec.Resolve, src)
			return nil
		})
	}
	_ = g.Wait()
}

type resolveFunc func(index int, res *restriction.Resolver) (*models.Order, error)

// runOrder resolves one order, picks its pools and generates its circuits.
func (r *Runner) runOrder(ctx context.Context, rn *run, index, line int, resolve resolveFunc, src sampling.Source) OrderResult {
	res := OrderResult{Index: index, Line: line, State: generator.StateFailed}

	order, err := resolve(index, rn.resolver)
	if err != nil {
		res.Err = fmt.Errorf("order %d: %w", index, err)
		r.finish(ctx, rn, res, &models.Order{Index: index})
		return res
	}
	res.Quota = order.Quota

	pools, err := rn.pools.forOrder(order)
	if err != nil {
		res.Err = fmt.Errorf("order %d: %w", index, err)
		r.finish(ctx, rn, res, order)
		return res
	}

	out, err := generator.New(pools, src, rn.cfg).Generate(ctx, order)
	res.State = out.State
	res.Created = out.Created
	res.Batches = out.Batches
	res.Drawn = out.Drawn
	res.Err = err

	if r.recorder != nil {
		if recErr := r.recorder.FinishOrder(ctx, rn.id, res); recErr != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("order %d: recording: %w", index, recErr))
		}
	}
	return res
}

// finish reports an order that failed before the generator ran. The
// generator reports its own orders to the observers.
func (r *Runner) finish(ctx context.Context, rn *run, res OrderResult, order *models.Order) {
	r.observers.OrderFinished(generator.OrderEvent{
		Order: order,
		State: res.State,
		Err:   res.Err,
	})
	if r.recorder != nil {
		if err := r.recorder.FinishOrder(ctx, rn.id, res); err != nil {
			r.logger.Warn("recording order failed", "run", rn.id, "order", res.Index, "error", err)
		}
	}
}
