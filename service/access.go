package service

import (
	"fmt"

	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/internal/eth"
)

// Required tiers of the protected operations
const (
	TierIssueChallenge    = core.TierPublic
	TierVerifyLogin       = core.TierPublic
	TierLogoutSpecific    = core.TierPublic
	TierSessionsForCaller = core.TierUser
	TierLogoutCurrent     = core.TierUser
	TierLogoutSelf        = core.TierUser
	TierLogoutOther       = core.TierOwner
	TierAllSessions       = core.TierOwner
	TierLogoutAll         = core.TierOwner
	TierActiveChallenges  = core.TierOwner
)

// AccessControl maps addresses to privilege tiers
type AccessControl struct {
	owner string
	team  map[string]struct{}
}

// NewAccessControl validates and canonicalises the configured addresses.
// An empty owner means no address is granted the owner tier.
func NewAccessControl(owner string, team []string) (*AccessControl, error) {
	a := &AccessControl{team: make(map[string]struct{}, len(team))}
	if owner != "" {
		addr, err := eth.ParseAddress(owner)
		if err != nil {
			return nil, fmt.Errorf("node operator address %q: %w", owner, err)
		}
		a.owner = addr.Hex()
	}
	for _, member := range team {
		addr, err := eth.ParseAddress(member)
		if err != nil {
			return nil, fmt.Errorf("team address %q: %w", member, err)
		}
		a.team[addr.Hex()] = struct{}{}
	}
	return a, nil
}

// TierOf classifies an authenticated address
func (a *AccessControl) TierOf(address string) core.Tier {
	addr, err := eth.ParseAddress(address)
	if err != nil {
		return core.TierPublic
	}
	canonical := addr.Hex()
	if a.owner != "" && canonical == a.owner {
		return core.TierOwner
	}
	if _, ok := a.team[canonical]; ok {
		return core.TierTeam
	}
	return core.TierUser
}

// TierOfSession is TierPublic for a nil session
func (a *AccessControl) TierOfSession(session *core.Session) core.Tier {
	if session == nil {
		return core.TierPublic
	}
	return a.TierOf(session.Address)
}

// Authorize checks that session grants required
func (a *AccessControl) Authorize(session *core.Session, required core.Tier) error {
	if required == core.TierPublic {
		return nil
	}
	if session == nil {
		return core.ErrUnauthenticated
	}
	if !a.TierOf(session.Address).AtLeast(required) {
		return core.ErrForbidden
	}
	return nil
}

func canonicalAddress(address string) (string, error) {
	addr, err := eth.ParseAddress(address)
	if err != nil {
		return "", core.Validation("malformed address")
	}
	return addr.Hex(), nil
}
