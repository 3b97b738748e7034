package models

import "fmt"

// Position is the hop a relay is being weighted or drawn for.
type Position int

const (
	PositionGuard Position = iota
	PositionMiddle
	PositionExit
)

// Positions lists every hop in circuit order.
var Positions = []Position{PositionGuard, PositionMiddle, PositionExit}

func (p Position) String() string {
	switch p {
	case PositionGuard:
		return "guard"
	case PositionMiddle:
		return "middle"
	case PositionExit:
		return "exit"
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// ParsePosition maps a role name to its Position.
func ParsePosition(s string) (Position, error) {
	for _, p := range Positions {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid role %q (valid: guard, middle, exit)", s)
}

// Circuit is one simulated three-hop path.
type Circuit struct {
	Guard  *Relay
	Middle *Relay
	Exit   *Relay
}

// Relays returns the hops in circuit order.
func (c Circuit) Relays() [3]*Relay {
	return [3]*Relay{c.Guard, c.Middle, c.Exit}
}

func (c Circuit) String() string {
	return fmt.Sprintf("%s -> %s -> %s", c.Guard, c.Middle, c.Exit)
}

// Order asks for Quota accepted circuits. A pinned role is never sampled:
// every circuit of the order reuses the same relay for it.
type Order struct {
	// Index is the order's position in its order file, starting at 0.
	Index int

	Quota int

	Guard  *Relay
	Middle *Relay
	Exit   *Relay

	// Destination restricts exits to those whose policy allows its port.
	Destination *Destination

	// Extra is free-form trailing text from the order line.
	Extra string
}

// Pinned returns the relay the order fixes for p, or nil.
func (o *Order) Pinned(p Position) *Relay {
	switch p {
	case PositionGuard:
		return o.Guard
	case PositionMiddle:
		return o.Middle
	case PositionExit:
		return o.Exit
	}
	return nil
}
