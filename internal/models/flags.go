package models

import (
	"fmt"
	"strings"
)

// Flag is a single consensus capability or status token.
type Flag uint8

// Flags known to the selection algorithm. Other consensus flags are ignored
// by the snapshot loader.
const (
	FlagFast Flag = 1 << iota
	FlagStable
	FlagGuard
	FlagExit
	FlagBadExit
	FlagRunning
	FlagValid
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagFast, "Fast"},
	{FlagStable, "Stable"},
	{FlagGuard, "Guard"},
	{FlagExit, "Exit"},
	{FlagBadExit, "BadExit"},
	{FlagRunning, "Running"},
	{FlagValid, "Valid"},
}

// ParseFlag maps a consensus token (case-insensitive) to its Flag.
func ParseFlag(s string) (Flag, error) {
	for _, fn := range flagNames {
		if strings.EqualFold(fn.name, s) {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown relay flag %q", s)
}

// String returns the consensus token for f.
func (f Flag) String() string {
	for _, fn := range flagNames {
		if fn.flag == f {
			return fn.name
		}
	}
	return fmt.Sprintf("Flag(%d)", uint8(f))
}

// Flags is a bit set of Flag values.
type Flags uint8

// NewFlags builds a set from individual flags.
func NewFlags(flags ...Flag) Flags {
	var fs Flags
	for _, f := range flags {
		fs |= Flags(f)
	}
	return fs
}

// ParseFlags parses a list of consensus tokens into a set.
func ParseFlags(tokens []string) (Flags, error) {
	var fs Flags
	for _, tok := range tokens {
		f, err := ParseFlag(tok)
		if err != nil {
			return 0, err
		}
		fs |= Flags(f)
	}
	return fs, nil
}

// Has reports whether f is in the set.
func (fs Flags) Has(f Flag) bool {
	return fs&Flags(f) != 0
}

// With returns a copy of the set with f added.
func (fs Flags) With(f Flag) Flags {
	return fs | Flags(f)
}

// Tokens returns the set members as consensus tokens in canonical order.
func (fs Flags) Tokens() []string {
	tokens := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if fs.Has(fn.flag) {
			tokens = append(tokens, fn.name)
		}
	}
	return tokens
}

// String returns the members separated by spaces, e.g. "Fast Guard Running".
func (fs Flags) String() string {
	return strings.Join(fs.Tokens(), " ")
}

// Constraint is an optional requirement on a single flag.
type Constraint int

const (
	// ConstraintAny leaves the flag unconstrained.
	ConstraintAny Constraint = iota
	// ConstraintRequired requires the flag to be present.
	ConstraintRequired
	// ConstraintForbidden requires the flag to be absent.
	ConstraintForbidden
)

// ParseConstraint accepts "any" (or ""), "required" and "forbidden".
func ParseConstraint(s string) (Constraint, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return ConstraintAny, nil
	case "required":
		return ConstraintRequired, nil
	case "forbidden":
		return ConstraintForbidden, nil
	}
	return ConstraintAny, fmt.Errorf("invalid flag constraint %q (valid: any, required, forbidden)", s)
}

// Satisfied reports whether a relay with the given flag membership meets c.
func (c Constraint) Satisfied(present bool) bool {
	switch c {
	case ConstraintRequired:
		return present
	case ConstraintForbidden:
		return !present
	}
	return true
}

func (c Constraint) String() string {
	switch c {
	case ConstraintRequired:
		return "required"
	case ConstraintForbidden:
		return "forbidden"
	}
	return "any"
}
