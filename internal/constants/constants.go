// Package constants provides named constants used throughout the pathsim codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Bandwidth weight constants
const (
	// WeightScale is the denominator shared by every consensus bandwidth-weight
	// coefficient. A coefficient of WeightScale means "use the full bandwidth".
	WeightScale = 10000

	// NormalizationTolerance is the allowed deviation of a normalized
	// distribution's sum from 1.0.
	NormalizationTolerance = 1e-9
)

// Generator limits bound the retry loop so an order whose restrictions reject
// every draw terminates instead of spinning forever.
const (
	// DefaultMaxBatches is the maximum number of batches drawn for one order.
	DefaultMaxBatches = 1000

	// DefaultMaxRejectStreak is the number of consecutive batches without a
	// single accepted circuit after which an order is abandoned.
	DefaultMaxRejectStreak = 100
)

// Order file constants
const (
	// UnpinnedToken marks an order column the weighted sampler decides.
	UnpinnedToken = "*"

	// OrderCommentPrefix starts a comment line in an order file.
	OrderCommentPrefix = "#"
)

// IdentityMarkers are the leading characters a family member token may carry
// before its nickname, fingerprint or digest.
const IdentityMarkers = "$!~="

// Role names used in diagnostics, metrics labels and CLI flags.
const (
	RoleGuard  = "guard"
	RoleMiddle = "middle"
	RoleExit   = "exit"
)

// ValidRoles lists the role names accepted on the command line.
var ValidRoles = map[string]bool{
	RoleGuard:  true,
	RoleMiddle: true,
	RoleExit:   true,
}

// MCP tool limits bound the work a single tool call can request.
const (
	// MaxToolOrders caps the order lines accepted by pathsim_simulate.
	MaxToolOrders = 100

	// MaxToolQuota caps the quota of any one order submitted over MCP.
	MaxToolQuota = 10000

	// MaxToolParallelism caps the concurrent orders of one tool call.
	MaxToolParallelism = 8

	// DefaultWeightsTop is the number of relays pathsim_weights lists per
	// position when the caller does not say.
	DefaultWeightsTop = 10
)
