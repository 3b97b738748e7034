package mcp

import "time"

// SimulateInput defines the input for the pathsim_simulate tool.
type SimulateInput struct {
	Snapshot    string   `json:"snapshot" jsonschema:"Path to a consensus snapshot YAML file under the project root or ~/.pathsim"`
	Orders      []string `json:"orders" jsonschema:"Order lines: quota guard middle exit [destination] [extra], with * for unpinned positions"`
	Seed        uint64   `json:"seed,omitempty" jsonschema:"Random seed; omit to use the configured seed"`
	MaxBatches  int      `json:"max_batches,omitempty" jsonschema:"Maximum batches drawn per order"`
	Parallelism int      `json:"parallelism,omitempty" jsonschema:"Number of orders generated concurrently"`
}

// SimulateOutput defines the output for the pathsim_simulate tool.
type SimulateOutput struct {
	RunID       string         `json:"run_id" jsonschema:"Identifier of the run"`
	Seed        uint64         `json:"seed" jsonschema:"Seed the run used; pass it back to reproduce the run"`
	Delivered   int            `json:"delivered" jsonschema:"Circuits delivered across all orders"`
	Failed      int            `json:"failed" jsonschema:"Orders that did not meet their quota"`
	Families    int            `json:"families" jsonschema:"Family groups found in the snapshot descriptors"`
	Orders      []OrderSummary `json:"orders" jsonschema:"Per-order outcomes in order"`
	ParseErrors []string       `json:"parse_errors,omitempty" jsonschema:"Order lines that could not be parsed and were skipped"`
	Message     string         `json:"message" jsonschema:"Human-readable result message"`
}

// OrderSummary reports the outcome of one order.
type OrderSummary struct {
	Index   int    `json:"index"`
	Line    int    `json:"line"`
	Quota   int    `json:"quota"`
	State   string `json:"state"`
	Created int    `json:"created"`
	Batches int    `json:"batches"`
	Drawn   int    `json:"drawn"`
	Error   string `json:"error,omitempty"`
}

// WeightsInput defines the input for the pathsim_weights tool.
type WeightsInput struct {
	Snapshot    string `json:"snapshot" jsonschema:"Path to a consensus snapshot YAML file under the project root or ~/.pathsim"`
	Relay       string `json:"relay,omitempty" jsonschema:"Nickname, fingerprint or digest of one relay to report on"`
	Destination string `json:"destination,omitempty" jsonschema:"host:port the exit must reach; omit for any port"`
	Top         int    `json:"top,omitempty" jsonschema:"Relays listed per position (default 10)"`
}

// WeightsOutput defines the output for the pathsim_weights tool.
type WeightsOutput struct {
	Destination string            `json:"destination,omitempty"`
	Relay       *RelaySummary     `json:"relay,omitempty" jsonschema:"The requested relay, when one was given"`
	Positions   []PositionWeights `json:"positions" jsonschema:"Selection pools in circuit order"`
}

// RelaySummary identifies a relay.
type RelaySummary struct {
	Nickname    string   `json:"nickname"`
	Fingerprint string   `json:"fingerprint"`
	Address     string   `json:"address"`
	Bandwidth   float64  `json:"bandwidth"`
	Flags       []string `json:"flags"`
}

// PositionWeights describes the pool of one circuit position.
type PositionWeights struct {
	Position string `json:"position"`
	PoolSize int    `json:"pool_size"`
	Error    string `json:"error,omitempty"`

	// Eligible is set when a relay was requested and reports whether it is
	// in this pool.
	Eligible *bool `json:"eligible,omitempty"`

	Relays []RelayWeight `json:"relays,omitempty"`
}

// RelayWeight is a relay's share of a pool.
type RelayWeight struct {
	Nickname    string  `json:"nickname"`
	Fingerprint string  `json:"fingerprint"`
	Bandwidth   float64 `json:"bandwidth"`
	Coefficient float64 `json:"coefficient"`
	Weight      float64 `json:"weight"`
	Probability float64 `json:"probability"`
}

// RunsInput defines the input for the pathsim_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum runs to list, newest first (default 20)"`
}

// RunsOutput defines the output for the pathsim_runs tool.
type RunsOutput struct {
	Runs  []RunListItem `json:"runs"`
	Count int           `json:"count"`
}

// RunListItem provides a list view of a recorded run.
type RunListItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Seed       uint64     `json:"seed"`
	Orders     int        `json:"orders"`
	Failed     int        `json:"failed"`
	Delivered  int        `json:"delivered"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
