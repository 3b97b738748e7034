package restriction

import "github.com/nvandessel/pathsim/internal/models"

// FamilyMap maps a relay digest to its family group id. A digest with no
// entry belongs to no group.
type FamilyMap map[string]int

// Group returns the digest's group id.
func (fm FamilyMap) Group(digest string) (int, bool) {
	g, ok := fm[digest]
	return g, ok
}

// SameFamily reports whether both relays have a recorded group and it matches.
func (fm FamilyMap) SameFamily(a, b *models.Relay) bool {
	ga, ok := fm[a.Digest]
	if !ok {
		return false
	}
	gb, ok := fm[b.Digest]
	return ok && ga == gb
}

// FamilyStats summarizes a BuildFamilyMap pass.
type FamilyStats struct {
	Groups     int
	Members    int
	Skipped    int
	Unresolved []string
}

// BuildFamilyMap gives every descriptor that declares a family a fresh group
// id, in descriptor order, and assigns it to the descriptor's own digest and
// to each member token that resolves. A descriptor whose digest already has a
// group, from its own or an earlier family's declaration, is skipped. A member
// declared by two unrelated families takes the later group id.
func BuildFamilyMap(descriptors []models.Descriptor, res *Resolver) (FamilyMap, FamilyStats) {
	fm := make(FamilyMap)
	var stats FamilyStats

	for _, d := range descriptors {
		if len(d.Family) == 0 {
			continue
		}
		if _, seen := fm[d.Digest]; seen {
			stats.Skipped++
			continue
		}
		group := stats.Groups
		stats.Groups++

		fm[d.Digest] = group
		for _, token := range d.Family {
			r := res.Resolve(token)
			if !r.Ok() {
				stats.Unresolved = append(stats.Unresolved, token)
				continue
			}
			fm[r.Digest] = group
		}
	}
	stats.Members = len(fm)
	return fm, stats
}
