// Package restriction implements the network-diversity rules that reject
// candidate circuits, and the family index they depend on.
//
// Predicates never fail: a relay whose family could not be resolved simply
// belongs to no family.
package restriction

import (
	"strings"

	"github.com/nvandessel/pathsim/internal/models"
)

// Predicate removes the circuits that violate one diversity rule.
type Predicate interface {
	Name() string
	Filter(circuits []models.Circuit) []models.Circuit
}

// Rejection counts the circuits one predicate removed during Apply.
type Rejection struct {
	Predicate string
	Count     int
}

type pairPredicate struct {
	name     string
	conflict func(a, b *models.Relay) bool
}

func (p pairPredicate) Name() string { return p.name }

func (p pairPredicate) Filter(circuits []models.Circuit) []models.Circuit {
	kept := make([]models.Circuit, 0, len(circuits))
	for _, c := range circuits {
		if !p.rejects(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func (p pairPredicate) rejects(c models.Circuit) bool {
	hops := c.Relays()
	for i := 0; i < len(hops); i++ {
		for j := i + 1; j < len(hops); j++ {
			if p.conflict(hops[i], hops[j]) {
				return true
			}
		}
	}
	return false
}

// NewPredicate builds a predicate rejecting circuits where any two hops conflict.
func NewPredicate(name string, conflict func(a, b *models.Relay) bool) Predicate {
	return pairPredicate{name: name, conflict: conflict}
}

// Subnet16 returns the first two dot-separated components of a dotted-quad
// address. The comparison is textual, not CIDR arithmetic.
func Subnet16(address string) string {
	parts := strings.SplitN(address, ".", 3)
	if len(parts) < 2 {
		return address
	}
	return parts[0] + "." + parts[1]
}

// SubnetPredicate rejects circuits with two hops in the same /16.
func SubnetPredicate() Predicate {
	return NewPredicate("subnet", func(a, b *models.Relay) bool {
		return Subnet16(a.Address) == Subnet16(b.Address)
	})
}

// FamilyPredicate rejects circuits with two hops in the same declared family.
func FamilyPredicate(fm FamilyMap) Predicate {
	return NewPredicate("family", fm.SameFamily)
}

// Apply runs circuits through every predicate in turn; a circuit survives only
// if all of them keep it.
func Apply(preds []Predicate, circuits []models.Circuit) ([]models.Circuit, []Rejection) {
	rejections := make([]Rejection, 0, len(preds))
	for _, p := range preds {
		before := len(circuits)
		circuits = p.Filter(circuits)
		rejections = append(rejections, Rejection{Predicate: p.Name(), Count: before - len(circuits)})
	}
	return circuits, rejections
}
