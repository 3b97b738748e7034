package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/nvandessel/pathsim/internal/simulation"
	"github.com/nvandessel/pathsim/internal/snapshot"
	"github.com/spf13/cobra"
)

func newWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Show relay selection probabilities per position",
		Long: `Show the weighted pools a simulation would draw from.

Without --relay, lists the most likely relays of each position. With
--relay, reports whether that relay is eligible at each position and
its probability there.

Examples:
  pathsim weights --snapshot consensus.yaml
  pathsim weights --snapshot consensus.yaml --role exit --destination example.com:443 --top 5
  pathsim weights --snapshot consensus.yaml --relay '$9695DFC35FFEB861329B9F1AB04C46397020CE31'`,
		RunE: runWeights,
	}

	cmd.Flags().String("snapshot", "", "Consensus snapshot YAML file (required)")
	cmd.Flags().String("role", "", "Only show one position: guard, middle or exit")
	cmd.Flags().String("destination", "", "host:port the exit must reach")
	cmd.Flags().String("relay", "", "Nickname, fingerprint or digest of one relay to report on")
	cmd.Flags().Int("top", constants.DefaultWeightsTop, "Relays listed per position (0 for all)")
	cmd.MarkFlagRequired("snapshot")

	return cmd
}

// weightsEntry is one relay of a position in the weights output.
type weightsEntry struct {
	Nickname    string  `json:"nickname"`
	Fingerprint string  `json:"fingerprint"`
	Bandwidth   float64 `json:"bandwidth"`
	Coefficient float64 `json:"coefficient"`
	Weight      float64 `json:"weight"`
	Probability float64 `json:"probability"`
}

// weightsPosition is one position of the weights output.
type weightsPosition struct {
	Position string         `json:"position"`
	PoolSize int            `json:"pool_size"`
	Eligible *bool          `json:"eligible,omitempty"`
	Error    string         `json:"error,omitempty"`
	Relays   []weightsEntry `json:"relays,omitempty"`
}

func runWeights(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	snapPath, _ := cmd.Flags().GetString("snapshot")
	role, _ := cmd.Flags().GetString("role")
	destFlag, _ := cmd.Flags().GetString("destination")
	relayFlag, _ := cmd.Flags().GetString("relay")
	top, _ := cmd.Flags().GetInt("top")

	if role != "" && !constants.ValidRoles[role] {
		return fmt.Errorf("invalid role %q (valid: guard, middle, exit)", role)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reqs, err := cfg.Requirements()
	if err != nil {
		return err
	}

	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	var dest *models.Destination
	if destFlag != "" {
		if dest, err = models.ParseDestination(destFlag); err != nil {
			return err
		}
	}

	var target *models.Relay
	if relayFlag != "" {
		r, ok := restriction.NewResolver(snap.Relays).Relay(relayFlag)
		if !ok {
			return fmt.Errorf("relay %q not found in snapshot", relayFlag)
		}
		target = r
	}

	pools, err := simulation.InspectPools(snap, reqs, dest)
	if err != nil {
		return err
	}

	var out []weightsPosition
	for _, pool := range pools {
		if role != "" && pool.Position.String() != role {
			continue
		}
		out = append(out, weightsFor(pool, target, top))
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"destination": dest.String(),
			"positions":   out,
		})
	}

	if target != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Relay %s (%s, bandwidth %g, flags %s)\n\n",
			target, target.Address, target.Bandwidth, target.Flags)
	}
	for _, pw := range out {
		printPosition(cmd.OutOrStdout(), pw, dest)
	}
	return nil
}

func weightsFor(pool simulation.PoolSummary, target *models.Relay, top int) weightsPosition {
	pw := weightsPosition{
		Position: pool.Position.String(),
		PoolSize: len(pool.Entries),
	}
	if pool.Err != nil {
		pw.Error = pool.Err.Error()
	}

	entries := pool.Entries
	if target != nil {
		entry, ok := pool.Find(target)
		pw.Eligible = &ok
		entries = nil
		if ok {
			entries = []simulation.PoolEntry{entry}
		}
	} else if top > 0 && len(entries) > top {
		entries = entries[:top]
	}

	for _, e := range entries {
		pw.Relays = append(pw.Relays, weightsEntry{
			Nickname:    e.Relay.Nickname,
			Fingerprint: e.Relay.Fingerprint,
			Bandwidth:   e.Relay.Bandwidth,
			Coefficient: e.Coefficient,
			Weight:      e.Weight,
			Probability: e.Probability,
		})
	}
	return pw
}

func printPosition(w io.Writer, pw weightsPosition, dest *models.Destination) {
	header := pw.Position
	if pw.Position == constants.RoleExit && dest != nil {
		header += " to " + dest.String()
	}
	fmt.Fprintf(w, "%s (%d eligible)\n", header, pw.PoolSize)

	if pw.Error != "" {
		fmt.Fprintf(w, "  error: %s\n\n", pw.Error)
		return
	}
	if pw.Eligible != nil && !*pw.Eligible {
		fmt.Fprintf(w, "  not eligible\n\n")
		return
	}
	for _, e := range pw.Relays {
		fmt.Fprintf(w, "  %-20s %-42s %10.4f%%  (bw %g x %g)\n",
			e.Nickname, e.Fingerprint, e.Probability*100, e.Bandwidth, e.Coefficient)
	}
	fmt.Fprintln(w)
}
