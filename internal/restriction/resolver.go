package restriction

import (
	"strings"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
)

// ResolutionKind records how an identity token was resolved.
type ResolutionKind int

const (
	Unresolved ResolutionKind = iota
	ByNickname
	ByFingerprint
	ByDigest
)

func (k ResolutionKind) String() string {
	switch k {
	case ByNickname:
		return "nickname"
	case ByFingerprint:
		return "fingerprint"
	case ByDigest:
		return "digest"
	}
	return "unresolved"
}

// Resolution is the outcome of resolving one identity token.
type Resolution struct {
	Digest string
	Kind   ResolutionKind
}

// Ok reports whether the token resolved to a digest.
func (r Resolution) Ok() bool {
	return r.Kind != Unresolved
}

// Resolver maps nicknames, fingerprints and digests of a relay set to relays.
type Resolver struct {
	byNickname    map[string]*models.Relay
	ambiguous     map[string]bool
	byFingerprint map[string]*models.Relay
	byDigest      map[string]*models.Relay
}

// NewResolver indexes relays. A nickname shared by several relays is
// ambiguous and never resolves.
func NewResolver(relays []*models.Relay) *Resolver {
	res := &Resolver{
		byNickname:    make(map[string]*models.Relay, len(relays)),
		ambiguous:     make(map[string]bool),
		byFingerprint: make(map[string]*models.Relay, len(relays)),
		byDigest:      make(map[string]*models.Relay, len(relays)),
	}
	for _, r := range relays {
		if r.Nickname != "" {
			if _, dup := res.byNickname[r.Nickname]; dup {
				res.ambiguous[r.Nickname] = true
			}
			res.byNickname[r.Nickname] = r
		}
		if r.Fingerprint != "" {
			res.byFingerprint[strings.ToUpper(r.Fingerprint)] = r
		}
		if r.Digest != "" {
			res.byDigest[r.Digest] = r
		}
	}
	return res
}

// StripMarker removes one leading identity marker such as '$'.
func StripMarker(token string) string {
	if token != "" && strings.ContainsRune(constants.IdentityMarkers, rune(token[0])) {
		return token[1:]
	}
	return token
}

// Resolve maps a family member token to a digest: known nickname first, then
// known fingerprint, then the token taken as a digest. Empty tokens and
// ambiguous nicknames are Unresolved.
func (res *Resolver) Resolve(token string) Resolution {
	id := StripMarker(strings.TrimSpace(token))
	if id == "" {
		return Resolution{}
	}
	if r, ok := res.byNickname[id]; ok {
		if res.ambiguous[id] {
			return Resolution{}
		}
		return Resolution{Digest: r.Digest, Kind: ByNickname}
	}
	if r, ok := res.byFingerprint[strings.ToUpper(id)]; ok {
		return Resolution{Digest: r.Digest, Kind: ByFingerprint}
	}
	return Resolution{Digest: id, Kind: ByDigest}
}

// Relay finds a relay by nickname, fingerprint or digest for pinning it in an
// order. Markers are stripped; ambiguous nicknames do not match.
func (res *Resolver) Relay(token string) (*models.Relay, bool) {
	id := StripMarker(strings.TrimSpace(token))
	if id == "" {
		return nil, false
	}
	if r, ok := res.byNickname[id]; ok && !res.ambiguous[id] {
		return r, true
	}
	if r, ok := res.byFingerprint[strings.ToUpper(id)]; ok {
		return r, true
	}
	if r, ok := res.byDigest[id]; ok {
		return r, true
	}
	return nil, false
}
