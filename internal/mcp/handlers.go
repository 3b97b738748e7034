package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/logging"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/orders"
	"github.com/nvandessel/pathsim/internal/pathutil"
	"github.com/nvandessel/pathsim/internal/ratelimit"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/nvandessel/pathsim/internal/sanitize"
	"github.com/nvandessel/pathsim/internal/simulation"
	"github.com/nvandessel/pathsim/internal/snapshot"
	"go.uber.org/multierr"
)

// ErrNoDatabase is returned by tools that need the run database when none
// is configured.
var ErrNoDatabase = errors.New("no run database configured (set output.database)")

// defaultRunsLimit is the number of runs pathsim_runs lists by default.
const defaultRunsLimit = 20

// registerTools registers all pathsim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pathsim_simulate",
		Description: "Generate circuits for a list of orders against a consensus snapshot and report each order's outcome",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pathsim_weights",
		Description: "Show how likely relays are to be chosen at each circuit position",
	}, s.handleWeights)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pathsim_runs",
		Description: "List recorded simulation runs, newest first",
	}, s.handleRuns)

	return nil
}

// loadSnapshot validates path against the allowed directories and loads it.
func (s *Server) loadSnapshot(path string) (*snapshot.Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("'snapshot' parameter is required")
	}
	allowedDirs, err := pathutil.DefaultAllowedSnapshotDirs(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to determine allowed snapshot dirs: %w", err)
	}
	if err := pathutil.ValidateReadable(path, allowedDirs); err != nil {
		return nil, err
	}
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %q: %w", pathutil.RedactPath(path), err)
	}
	return snap, nil
}

// handleSimulate implements the pathsim_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pathsim_simulate", start, retErr, sanitizeToolParams(map[string]any{
			"snapshot":    args.Snapshot,
			"orders":      args.Orders,
			"seed":        args.Seed,
			"max_batches": args.MaxBatches,
			"parallelism": args.Parallelism,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pathsim_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	if len(args.Orders) == 0 {
		return nil, SimulateOutput{}, fmt.Errorf("'orders' parameter is required")
	}
	if len(args.Orders) > constants.MaxToolOrders {
		return nil, SimulateOutput{}, fmt.Errorf("too many orders: %d (max %d)", len(args.Orders), constants.MaxToolOrders)
	}
	if args.MaxBatches < 0 || args.Parallelism < 0 {
		return nil, SimulateOutput{}, fmt.Errorf("max_batches and parallelism must not be negative")
	}
	if args.Parallelism > constants.MaxToolParallelism {
		return nil, SimulateOutput{}, fmt.Errorf("parallelism %d exceeds maximum %d", args.Parallelism, constants.MaxToolParallelism)
	}

	snap, err := s.loadSnapshot(args.Snapshot)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	// Each entry is parsed as its own line so line numbers match indices.
	specs, parseErr := orders.ParseFile(strings.NewReader(strings.Join(args.Orders, "\n")))
	var parseErrors []string
	for _, err := range multierr.Errors(parseErr) {
		parseErrors = append(parseErrors, sanitize.Text(err.Error()))
	}
	if len(specs) == 0 {
		if parseErr != nil {
			return nil, SimulateOutput{}, fmt.Errorf("no valid orders: %w", parseErr)
		}
		return nil, SimulateOutput{}, fmt.Errorf("no valid orders: every line is blank or a comment")
	}
	for _, spec := range specs {
		if spec.Quota > constants.MaxToolQuota {
			return nil, SimulateOutput{}, fmt.Errorf("line %d: quota %d exceeds maximum %d", spec.Line, spec.Quota, constants.MaxToolQuota)
		}
	}

	settings := *s.settings
	if args.Seed != 0 {
		settings.Simulation.Seed = args.Seed
	}
	if args.MaxBatches > 0 {
		settings.Simulation.MaxBatches = args.MaxBatches
	}
	if args.Parallelism > 0 {
		settings.Simulation.Parallelism = args.Parallelism
	}

	sc, err := simulation.NewScenario("mcp", snap, specs, &settings)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	opts := []simulation.Option{
		simulation.WithLogger(s.logger),
		simulation.WithObserver(logging.NewObserver(s.logger)),
	}
	if s.store != nil {
		opts = append(opts, simulation.WithRecorder(s.store))
	}

	res, runErr := simulation.NewRunner(opts...).Run(ctx, sc)
	if res == nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", runErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, SimulateOutput{}, ctxErr
	}

	out := SimulateOutput{
		RunID:       res.RunID,
		Seed:        res.Seed,
		Delivered:   res.Delivered,
		Failed:      res.Failed(),
		Families:    res.Families,
		Orders:      make([]OrderSummary, len(res.Orders)),
		ParseErrors: parseErrors,
	}
	for i, o := range res.Orders {
		out.Orders[i] = OrderSummary{
			Index:   o.Index,
			Line:    o.Line,
			Quota:   o.Quota,
			State:   o.State.String(),
			Created: o.Created,
			Batches: o.Batches,
			Drawn:   o.Drawn,
		}
		if o.Err != nil {
			out.Orders[i].Error = sanitize.Text(o.Err.Error())
		}
	}

	out.Message = fmt.Sprintf("Delivered %d circuits for %d orders (%d failed, seed %d)",
		out.Delivered, len(out.Orders), out.Failed, out.Seed)
	if len(parseErrors) > 0 {
		out.Message += fmt.Sprintf("; skipped %d malformed order lines", len(parseErrors))
	}

	return nil, out, nil
}

// handleWeights implements the pathsim_weights tool.
func (s *Server) handleWeights(ctx context.Context, req *sdk.CallToolRequest, args WeightsInput) (_ *sdk.CallToolResult, _ WeightsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pathsim_weights", start, retErr, sanitizeToolParams(map[string]any{
			"snapshot":    args.Snapshot,
			"relay":       args.Relay,
			"destination": args.Destination,
			"top":         args.Top,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pathsim_weights"); err != nil {
		return nil, WeightsOutput{}, err
	}

	top := args.Top
	if top <= 0 {
		top = constants.DefaultWeightsTop
	}

	snap, err := s.loadSnapshot(args.Snapshot)
	if err != nil {
		return nil, WeightsOutput{}, err
	}

	var dest *models.Destination
	if args.Destination != "" {
		if dest, err = models.ParseDestination(args.Destination); err != nil {
			return nil, WeightsOutput{}, err
		}
	}

	var target *models.Relay
	if args.Relay != "" {
		r, ok := restriction.NewResolver(snap.Relays).Relay(args.Relay)
		if !ok {
			return nil, WeightsOutput{}, fmt.Errorf("relay %q: %w", args.Relay, orders.ErrUnknownRelay)
		}
		target = r
	}

	reqs, err := s.settings.Requirements()
	if err != nil {
		return nil, WeightsOutput{}, err
	}
	pools, err := simulation.InspectPools(snap, reqs, dest)
	if err != nil {
		return nil, WeightsOutput{}, err
	}

	out := WeightsOutput{Positions: make([]PositionWeights, len(pools))}
	if dest != nil {
		out.Destination = dest.String()
	}
	if target != nil {
		out.Relay = &RelaySummary{
			Nickname:    sanitize.Nickname(target.Nickname),
			Fingerprint: target.Fingerprint,
			Address:     target.Address,
			Bandwidth:   target.Bandwidth,
			Flags:       target.Flags.Tokens(),
		}
	}

	for i, pool := range pools {
		pw := PositionWeights{
			Position: pool.Position.String(),
			PoolSize: len(pool.Entries),
		}
		if pool.Err != nil {
			pw.Error = sanitize.Text(pool.Err.Error())
		}

		entries := pool.Entries
		if target != nil {
			entry, ok := pool.Find(target)
			pw.Eligible = &ok
			entries = nil
			if ok {
				entries = []simulation.PoolEntry{entry}
			}
		} else if len(entries) > top {
			entries = entries[:top]
		}
		for _, e := range entries {
			pw.Relays = append(pw.Relays, RelayWeight{
				Nickname:    sanitize.Nickname(e.Relay.Nickname),
				Fingerprint: e.Relay.Fingerprint,
				Bandwidth:   e.Relay.Bandwidth,
				Coefficient: e.Coefficient,
				Weight:      e.Weight,
				Probability: e.Probability,
			})
		}
		out.Positions[i] = pw
	}

	return nil, out, nil
}

// handleRuns implements the pathsim_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pathsim_runs", start, retErr, sanitizeToolParams(map[string]any{
			"limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "pathsim_runs"); err != nil {
		return nil, RunsOutput{}, err
	}
	if s.store == nil {
		return nil, RunsOutput{}, ErrNoDatabase
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, RunsOutput{}, err
	}

	out := RunsOutput{Runs: make([]RunListItem, 0, len(runs)), Count: len(runs)}
	for _, r := range runs {
		out.Runs = append(out.Runs, RunListItem{
			ID:         r.ID,
			Name:       r.Name,
			Seed:       r.Seed,
			Orders:     r.Orders,
			Failed:     r.Failed,
			Delivered:  r.Delivered,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return nil, out, nil
}
