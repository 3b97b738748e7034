package models

import (
	"fmt"
	"net"
	"strconv"
)

// Relay is one network node as listed in a consensus snapshot.
// Relays are never mutated during a run; pools and circuits share them by pointer.
type Relay struct {
	// Identity
	Nickname    string `json:"nickname" yaml:"nickname"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Digest      string `json:"digest" yaml:"digest"`

	// Address is the relay's dotted-quad IPv4 address.
	Address string `json:"address" yaml:"address"`

	Flags     Flags      `json:"flags" yaml:"-"`
	Bandwidth float64    `json:"bandwidth" yaml:"bandwidth"`
	Policy    ExitPolicy `json:"exit_policy,omitempty" yaml:"-"`
}

// String identifies the relay in logs and diagnostics.
func (r *Relay) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Nickname != "" {
		return fmt.Sprintf("%s~%s", r.Nickname, r.Fingerprint)
	}
	return r.Fingerprint
}

// ExitRule is one accept/reject line of an exit policy.
type ExitRule struct {
	MinPort         int  `json:"min_port"`
	MaxPort         int  `json:"max_port"`
	AddressWildcard bool `json:"address_wildcard"`
	Accept          bool `json:"accept"`
}

// Contains reports whether port lies in the rule's inclusive range.
func (r ExitRule) Contains(port int) bool {
	return port >= r.MinPort && port <= r.MaxPort
}

// ExitPolicy is an ordered rule list; the first matching rule wins.
type ExitPolicy []ExitRule

// Descriptor carries the per-relay details the consensus omits.
type Descriptor struct {
	Digest string `json:"digest" yaml:"digest"`

	// Family lists declared family members as raw identity tokens, each
	// usually prefixed with a marker such as '$'.
	Family []string `json:"family,omitempty" yaml:"family,omitempty"`
}

// Destination is the "address:port" a circuit's exit must be able to reach.
type Destination struct {
	Host string
	Port int
}

// ParseDestination parses "host:port". The port must lie in 1-65535.
func ParseDestination(s string) (*Destination, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid destination %q: bad port %q", s, portStr)
	}
	return &Destination{Host: host, Port: port}, nil
}

func (d *Destination) String() string {
	if d == nil {
		return "*"
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}
