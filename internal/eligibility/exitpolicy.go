package eligibility

import "github.com/nvandessel/pathsim/internal/models"

// CanExitPort reports whether policy lets an exit reach dest.
//
// A nil destination is always reachable. Otherwise rules are scanned in order
// and the first one that covers the port and applies to every address decides.
// Rules scoped to specific addresses are skipped. No match means the port is
// unrestricted.
func CanExitPort(policy models.ExitPolicy, dest *models.Destination) bool {
	if dest == nil {
		return true
	}
	for _, rule := range policy {
		if rule.AddressWildcard && rule.Contains(dest.Port) {
			return rule.Accept
		}
	}
	return true
}

// FilterExitPort keeps the relays whose own exit policy allows dest.
func FilterExitPort(relays []*models.Relay, dest *models.Destination) []*models.Relay {
	if dest == nil {
		return relays
	}
	return filter(relays, func(r *models.Relay) bool { return CanExitPort(r.Policy, dest) })
}
