// Package snapshot loads a typed network snapshot (relays, descriptors and
// bandwidth weights) from YAML.
//
// The snapshot is what a consensus/descriptor parser hands over; pathsim does
// not read the directory formats themselves. Example:
//
//	weights: {Wgg: 5920, Wgd: 4186, Wgm: 5920, Wmg: 4080, Wme: 0, Wmd: 4186,
//	          Wmm: 10000, Weg: 0, Wee: 10000, Wed: 1628, Wem: 10000}
//	relays:
//	  - nickname: alpha
//	    fingerprint: AAAA
//	    digest: da
//	    address: 10.0.0.1
//	    bandwidth: 100
//	    flags: [Fast, Guard, Running, Stable, Valid]
//	    exit_policy: ["reject *:1-1024", "accept *:*"]
//	descriptors:
//	  - digest: da
//	    family: ["$BBBB", "charlie"]
package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/pathsim/internal/models"
	"gopkg.in/yaml.v3"
)

// Snapshot is one network view.
type Snapshot struct {
	Weights     models.BandwidthWeights
	Relays      []*models.Relay
	Descriptors []models.Descriptor
}

type rawSnapshot struct {
	Weights     models.BandwidthWeights `yaml:"weights"`
	Relays      []rawRelay              `yaml:"relays"`
	Descriptors []models.Descriptor     `yaml:"descriptors"`
}

type rawRelay struct {
	Nickname    string   `yaml:"nickname"`
	Fingerprint string   `yaml:"fingerprint"`
	Digest      string   `yaml:"digest"`
	Address     string   `yaml:"address"`
	Bandwidth   float64  `yaml:"bandwidth"`
	Flags       []string `yaml:"flags"`
	ExitPolicy  []string `yaml:"exit_policy"`
}

// Load reads a snapshot file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a snapshot document.
func Parse(r io.Reader) (*Snapshot, error) {
	var raw rawSnapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	snap := &Snapshot{
		Weights:     raw.Weights,
		Relays:      make([]*models.Relay, 0, len(raw.Relays)),
		Descriptors: raw.Descriptors,
	}
	for i, rr := range raw.Relays {
		relay, err := rr.toRelay()
		if err != nil {
			return nil, fmt.Errorf("relay %d (%s): %w", i, rr.Nickname, err)
		}
		snap.Relays = append(snap.Relays, relay)
	}
	return snap, nil
}

func (rr rawRelay) toRelay() (*models.Relay, error) {
	if rr.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if rr.Bandwidth < 0 {
		return nil, fmt.Errorf("negative bandwidth %v", rr.Bandwidth)
	}
	flags, err := models.ParseFlags(rr.Flags)
	if err != nil {
		return nil, err
	}
	policy := make(models.ExitPolicy, 0, len(rr.ExitPolicy))
	for _, line := range rr.ExitPolicy {
		rule, err := ParseRule(line)
		if err != nil {
			return nil, err
		}
		policy = append(policy, rule)
	}
	return &models.Relay{
		Nickname:    rr.Nickname,
		Fingerprint: rr.Fingerprint,
		Digest:      rr.Digest,
		Address:     rr.Address,
		Flags:       flags,
		Bandwidth:   rr.Bandwidth,
		Policy:      policy,
	}, nil
}

// ParseRule parses one exit-policy line such as "accept *:80",
// "reject *:1-1024" or "reject 10.0.0.0/8:*". The address is a wildcard when
// it is "*", "*4", "*6" or a prefix with a zero-bit mask such as 0.0.0.0/0.
func ParseRule(line string) (models.ExitRule, error) {
	verb, target, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return models.ExitRule{}, fmt.Errorf("exit rule %q: want \"accept|reject ADDR:PORTS\"", line)
	}

	var rule models.ExitRule
	switch strings.ToLower(verb) {
	case "accept":
		rule.Accept = true
	case "reject":
	default:
		return models.ExitRule{}, fmt.Errorf("exit rule %q: unknown action %q", line, verb)
	}

	target = strings.TrimSpace(target)
	idx := strings.LastIndex(target, ":")
	if idx < 0 {
		return models.ExitRule{}, fmt.Errorf("exit rule %q: missing port", line)
	}
	rule.AddressWildcard = wildcardAddress(target[:idx])

	lo, hi, err := parsePorts(target[idx+1:])
	if err != nil {
		return models.ExitRule{}, fmt.Errorf("exit rule %q: %w", line, err)
	}
	rule.MinPort, rule.MaxPort = lo, hi
	return rule, nil
}

func wildcardAddress(addr string) bool {
	switch addr {
	case "*", "*4", "*6":
		return true
	}
	if !strings.Contains(addr, "/") {
		return false
	}
	prefix, err := netip.ParsePrefix(strings.NewReplacer("[", "", "]", "").Replace(addr))
	return err == nil && prefix.Bits() == 0
}

func parsePorts(s string) (int, int, error) {
	if s == "*" {
		return 1, 65535, nil
	}
	loStr, hiStr, isRange := strings.Cut(s, "-")
	lo, err := strconv.Atoi(loStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad port %q", loStr)
	}
	hi := lo
	if isRange {
		if hi, err = strconv.Atoi(hiStr); err != nil {
			return 0, 0, fmt.Errorf("bad port %q", hiStr)
		}
	}
	if lo < 0 || hi > 65535 || lo > hi {
		return 0, 0, fmt.Errorf("bad port range %q", s)
	}
	return lo, hi, nil
}
