package models

// BandwidthWeights are the consensus coefficients, in parts per
// constants.WeightScale, that scale a relay's bandwidth by position and flags.
// The first letter names the position (guard, middle, exit); the second the
// relay's flag class (g = Guard only, e = Exit only, d = Guard and Exit,
// m = neither).
type BandwidthWeights struct {
	Wgg float64 `json:"Wgg" yaml:"Wgg"`
	Wgd float64 `json:"Wgd" yaml:"Wgd"`
	Wgm float64 `json:"Wgm" yaml:"Wgm"`

	Wmg float64 `json:"Wmg" yaml:"Wmg"`
	Wme float64 `json:"Wme" yaml:"Wme"`
	Wmd float64 `json:"Wmd" yaml:"Wmd"`
	Wmm float64 `json:"Wmm" yaml:"Wmm"`

	Weg float64 `json:"Weg" yaml:"Weg"`
	Wee float64 `json:"Wee" yaml:"Wee"`
	Wed float64 `json:"Wed" yaml:"Wed"`
	Wem float64 `json:"Wem" yaml:"Wem"`
}
