// Package weighting turns relay bandwidth into position-specific selection
// probabilities using the consensus bandwidth-weight coefficients.
package weighting

import (
	"errors"
	"fmt"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/sampling"
)

var (
	// ErrUndefinedWeight is returned for a position/flag combination the
	// coefficient table has no entry for (an Exit-only relay at guard).
	ErrUndefinedWeight = errors.New("undefined bandwidth weight for flag combination")

	// ErrEmptyPool is returned when no relay is eligible for a role.
	ErrEmptyPool = errors.New("no eligible relays")

	// ErrZeroWeight is returned when every eligible relay weighs zero.
	ErrZeroWeight = errors.New("eligible relays have zero total weight")
)

// Coefficient looks up the bandwidth weight for a relay with flags drawn at p.
func Coefficient(w models.BandwidthWeights, p models.Position, flags models.Flags) (float64, error) {
	guard := flags.Has(models.FlagGuard)
	exit := flags.Has(models.FlagExit)

	switch p {
	case models.PositionGuard:
		switch {
		case guard && exit:
			return w.Wgd, nil
		case guard:
			return w.Wgg, nil
		case exit:
			return 0, fmt.Errorf("%s position with flags %q: %w", p, flags, ErrUndefinedWeight)
		default:
			return w.Wgm, nil
		}
	case models.PositionMiddle:
		switch {
		case guard && exit:
			return w.Wmd, nil
		case guard:
			return w.Wmg, nil
		case exit:
			return w.Wme, nil
		default:
			return w.Wmm, nil
		}
	case models.PositionExit:
		switch {
		case guard && exit:
			return w.Wed, nil
		case guard:
			return w.Weg, nil
		case exit:
			return w.Wee, nil
		default:
			return w.Wem, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", p, ErrUndefinedWeight)
}

// RawWeight is bandwidth × coefficient / scale for r drawn at p.
func RawWeight(r *models.Relay, p models.Position, w models.BandwidthWeights) (float64, error) {
	c, err := Coefficient(w, p, r.Flags)
	if err != nil {
		return 0, fmt.Errorf("relay %s: %w", r, err)
	}
	return r.Bandwidth * c / constants.WeightScale, nil
}

// Normalize divides raw by its sum. Empty or zero-sum input is an error,
// never a vector of NaNs or zeros.
func Normalize(raw []float64) ([]float64, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPool
	}
	var total float64
	for _, w := range raw {
		total += w
	}
	if total <= 0 {
		return nil, ErrZeroWeight
	}
	out := make([]float64, len(raw))
	for i, w := range raw {
		out[i] = w / total
	}
	return out, nil
}

// Pool is the weighted candidate set for one position.
type Pool struct {
	Position      models.Position
	Relays        []*models.Relay
	Probabilities []float64

	dist *sampling.Distribution
}

// NewPool weights relays for p and prepares the sampling distribution.
func NewPool(p models.Position, relays []*models.Relay, w models.BandwidthWeights) (*Pool, error) {
	raw := make([]float64, len(relays))
	for i, r := range relays {
		rw, err := RawWeight(r, p, w)
		if err != nil {
			return nil, err
		}
		raw[i] = rw
	}

	probs, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("no eligible relays for role %s: %w", p, err)
	}

	dist, err := sampling.NewDistribution(probs)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", p, err)
	}

	return &Pool{
		Position:      p,
		Relays:        relays,
		Probabilities: probs,
		dist:          dist,
	}, nil
}

// Len returns the number of candidate relays.
func (p *Pool) Len() int {
	return len(p.Relays)
}

// Draw returns one relay.
func (p *Pool) Draw(src sampling.Source) *models.Relay {
	return p.Relays[p.dist.Draw(src)]
}

// DrawN returns n relays drawn independently with replacement.
func (p *Pool) DrawN(src sampling.Source, n int) []*models.Relay {
	out := make([]*models.Relay, n)
	for i, idx := range p.dist.DrawN(src, n) {
		out[i] = p.Relays[idx]
	}
	return out
}

// Probability returns the selection probability of r in the pool, or 0 if
// r is not a member.
func (p *Pool) Probability(r *models.Relay) float64 {
	for i, candidate := range p.Relays {
		if candidate == r {
			return p.Probabilities[i]
		}
	}
	return 0
}
