// Package eligibility decides which relays may serve each circuit position.
//
// Every predicate is pure. The filters keep the input order so weighted pools
// built from their output line up with the snapshot.
package eligibility

import "github.com/nvandessel/pathsim/internal/models"

// Requirement bundles the optional Fast and Stable constraints for one role.
type Requirement struct {
	Fast   models.Constraint
	Stable models.Constraint
}

func usable(r *models.Relay, fast, stable models.Constraint) bool {
	if !r.Flags.Has(models.FlagRunning) || !r.Flags.Has(models.FlagValid) {
		return false
	}
	return fast.Satisfied(r.Flags.Has(models.FlagFast)) &&
		stable.Satisfied(r.Flags.Has(models.FlagStable))
}

// CanGuard reports whether r may be drawn as a guard.
func CanGuard(r *models.Relay, fast, stable models.Constraint) bool {
	return usable(r, fast, stable) && r.Flags.Has(models.FlagGuard)
}

// CanMiddle reports whether r may be drawn as a middle hop.
func CanMiddle(r *models.Relay, fast, stable models.Constraint) bool {
	return usable(r, fast, stable)
}

// CanExit reports whether r may be drawn as an exit. BadExit relays never qualify.
func CanExit(r *models.Relay, fast, stable models.Constraint) bool {
	return usable(r, fast, stable) && !r.Flags.Has(models.FlagBadExit)
}

// Can dispatches to the predicate for p.
func Can(p models.Position, r *models.Relay, req Requirement) bool {
	switch p {
	case models.PositionGuard:
		return CanGuard(r, req.Fast, req.Stable)
	case models.PositionMiddle:
		return CanMiddle(r, req.Fast, req.Stable)
	case models.PositionExit:
		return CanExit(r, req.Fast, req.Stable)
	}
	return false
}

func filter(relays []*models.Relay, keep func(*models.Relay) bool) []*models.Relay {
	out := make([]*models.Relay, 0, len(relays))
	for _, r := range relays {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterGuards returns the relays satisfying CanGuard.
func FilterGuards(relays []*models.Relay, fast, stable models.Constraint) []*models.Relay {
	return filter(relays, func(r *models.Relay) bool { return CanGuard(r, fast, stable) })
}

// FilterMiddles returns the relays satisfying CanMiddle.
func FilterMiddles(relays []*models.Relay, fast, stable models.Constraint) []*models.Relay {
	return filter(relays, func(r *models.Relay) bool { return CanMiddle(r, fast, stable) })
}

// FilterExits returns the relays satisfying CanExit.
func FilterExits(relays []*models.Relay, fast, stable models.Constraint) []*models.Relay {
	return filter(relays, func(r *models.Relay) bool { return CanExit(r, fast, stable) })
}

// Filter applies the predicate for p.
func Filter(p models.Position, relays []*models.Relay, req Requirement) []*models.Relay {
	return filter(relays, func(r *models.Relay) bool { return Can(p, r, req) })
}
