package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/logging"
	"github.com/nvandessel/pathsim/internal/metrics"
	"github.com/nvandessel/pathsim/internal/orders"
	"github.com/nvandessel/pathsim/internal/simulation"
	"github.com/nvandessel/pathsim/internal/snapshot"
	"github.com/nvandessel/pathsim/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate circuits for every order in an order file",
		Long: `Generate circuits against a consensus snapshot.

Each order line reads "<quota> <guard> <middle> <exit> [destination] [extra]".
Use * for a position the weighted sampler should choose. Malformed lines
are reported and skipped.

Examples:
  pathsim simulate --snapshot consensus.yaml --orders orders.txt
  pathsim simulate --snapshot consensus.yaml --orders - --seed 42 --print < orders.txt
  pathsim simulate --snapshot consensus.yaml --orders orders.txt --db runs.db --metrics pathsim.prom`,
		RunE: runSimulate,
	}

	cmd.Flags().String("snapshot", "", "Consensus snapshot YAML file (required)")
	cmd.Flags().String("orders", "", "Order file, or - for stdin (required)")
	cmd.Flags().Uint64("seed", 0, "Random seed (default: simulation.seed, or time-based when 0)")
	cmd.Flags().Int("parallelism", 0, "Orders generated concurrently (default: simulation.parallelism)")
	cmd.Flags().Int("max-batches", 0, "Maximum batches per order (default: simulation.max_batches)")
	cmd.Flags().String("db", "", "Record the run in this SQLite database (default: output.database)")
	cmd.Flags().String("metrics", "", "Write Prometheus text metrics to this file (default: output.metrics_file)")
	cmd.Flags().Bool("print", false, "Print every accepted circuit")
	cmd.MarkFlagRequired("snapshot")
	cmd.MarkFlagRequired("orders")

	return cmd
}

// simulateSummary is the --json output of simulate.
type simulateSummary struct {
	RunID       string         `json:"run_id"`
	Seed        uint64         `json:"seed"`
	Delivered   int            `json:"delivered"`
	Failed      int            `json:"failed"`
	Families    int            `json:"families"`
	DurationMs  int64          `json:"duration_ms"`
	Orders      []orderSummary `json:"orders"`
	ParseErrors []string       `json:"parse_errors,omitempty"`
	Database    string         `json:"database,omitempty"`
}

type orderSummary struct {
	Index    int         `json:"index"`
	Line     int         `json:"line"`
	Quota    int         `json:"quota"`
	State    string      `json:"state"`
	Created  int         `json:"created"`
	Batches  int         `json:"batches"`
	Drawn    int         `json:"drawn"`
	Error    string      `json:"error,omitempty"`
	Circuits [][3]string `json:"circuits,omitempty"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	snapPath, _ := cmd.Flags().GetString("snapshot")
	ordersPath, _ := cmd.Flags().GetString("orders")
	printCircuits, _ := cmd.Flags().GetBool("print")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Simulation.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if cmd.Flags().Changed("parallelism") {
		cfg.Simulation.Parallelism, _ = cmd.Flags().GetInt("parallelism")
	}
	if cmd.Flags().Changed("max-batches") {
		cfg.Simulation.MaxBatches, _ = cmd.Flags().GetInt("max-batches")
	}
	if cmd.Flags().Changed("db") {
		cfg.Output.Database, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Output.MetricsFile, _ = cmd.Flags().GetString("metrics")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	specs, parseErr, err := readOrders(cmd, ordersPath)
	if err != nil {
		return err
	}
	var parseErrors []string
	for _, err := range multierr.Errors(parseErr) {
		parseErrors = append(parseErrors, err.Error())
		if !jsonOut {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping order %v\n", err)
		}
	}
	if len(specs) == 0 {
		return fmt.Errorf("no valid orders in %s", ordersPath)
	}

	sc, err := simulation.NewScenario(filepath.Base(ordersPath), snap, specs, cfg)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	collector := metrics.NewCollector()
	opts := []simulation.Option{
		simulation.WithLogger(logger),
		simulation.WithObserver(logging.NewObserver(logger)),
		simulation.WithObserver(collector),
	}

	if decisions := logging.NewDecisionLogger(cfg.Output.DecisionDir, cfg.Logging.Level); decisions != nil {
		defer decisions.Close()
		opts = append(opts, simulation.WithObserver(decisions))
	}

	if cfg.Output.Database != "" {
		st, err := store.Open(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("failed to open run database: %w", err)
		}
		defer st.Close()
		opts = append(opts, simulation.WithRecorder(st))
	}

	var circuits *circuitSink
	if printCircuits {
		circuits = newCircuitSink()
		if !jsonOut {
			circuits.w = cmd.OutOrStdout()
		}
		opts = append(opts, simulation.WithSink(circuits))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	res, runErr := simulation.NewRunner(opts...).Run(ctx, sc)
	if res == nil {
		return runErr
	}

	if cfg.Output.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	summary := simulateSummary{
		RunID:       res.RunID,
		Seed:        res.Seed,
		Delivered:   res.Delivered,
		Failed:      res.Failed(),
		Families:    res.Families,
		DurationMs:  res.Duration.Milliseconds(),
		Orders:      make([]orderSummary, len(res.Orders)),
		ParseErrors: parseErrors,
		Database:    cfg.Output.Database,
	}
	for i, o := range res.Orders {
		summary.Orders[i] = orderSummary{
			Index:   o.Index,
			Line:    o.Line,
			Quota:   o.Quota,
			State:   o.State.String(),
			Created: o.Created,
			Batches: o.Batches,
			Drawn:   o.Drawn,
		}
		if o.Err != nil {
			summary.Orders[i].Error = o.Err.Error()
		}
		if circuits != nil && jsonOut {
			summary.Orders[i].Circuits = circuits.forOrder(o.Index)
		}
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	} else {
		printSimulateSummary(cmd.OutOrStdout(), summary)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d orders failed", summary.Failed, len(summary.Orders))
	}
	return nil
}

// readOrders parses the order file at path, or stdin for "-". parseErr
// collects the malformed lines; err means the file could not be read.
func readOrders(cmd *cobra.Command, path string) (specs []orders.Spec, parseErr, err error) {
	r := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open orders: %w", err)
		}
		defer f.Close()
		r = f
	}
	specs, parseErr = orders.ParseFile(r)
	return specs, parseErr, nil
}

func printSimulateSummary(w io.Writer, s simulateSummary) {
	fmt.Fprintf(w, "Run %s (seed %d)\n", s.RunID, s.Seed)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-5s %-5s %7s %7s %7s %7s  %s\n", "ORDER", "LINE", "QUOTA", "CREATED", "BATCHES", "DRAWN", "STATE")
	for _, o := range s.Orders {
		fmt.Fprintf(w, "  %-5d %-5d %7d %7d %7d %7d  %s\n", o.Index, o.Line, o.Quota, o.Created, o.Batches, o.Drawn, o.State)
		if o.Error != "" {
			fmt.Fprintf(w, "        %s\n", o.Error)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Delivered %d circuits for %d orders (%d failed) in %dms\n", s.Delivered, len(s.Orders), s.Failed, s.DurationMs)
	if s.Families > 0 {
		fmt.Fprintf(w, "Family groups: %d\n", s.Families)
	}
	if s.Database != "" {
		fmt.Fprintf(w, "Recorded in %s\n", s.Database)
	}
}

// circuitSink prints the hop addresses of each accepted circuit as it
// arrives and keeps the fingerprints per order. It is safe for concurrent use.
type circuitSink struct {
	mu      sync.Mutex
	w       io.Writer
	byOrder map[int][][3]string
}

func newCircuitSink() *circuitSink {
	return &circuitSink{byOrder: make(map[int][][3]string)}
}

func (s *circuitSink) Deliver(_ context.Context, b generator.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range b.Circuits {
		hops := [3]string{c.Guard.Fingerprint, c.Middle.Fingerprint, c.Exit.Fingerprint}
		s.byOrder[b.Order.Index] = append(s.byOrder[b.Order.Index], hops)
		if s.w != nil {
			fmt.Fprintf(s.w, "%s %s %s\n", c.Guard.Address, c.Middle.Address, c.Exit.Address)
		}
	}
	return nil
}

func (s *circuitSink) forOrder(index int) [][3]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOrder[index]
}
