package core

import "time"

// Session represents an authenticated address
type Session struct {
	Token     string    `json:"token"`      // Opaque session identifier
	Phrase    string    `json:"phrase"`     // Phrase the session was verified with
	Address   string    `json:"address"`    // Checksummed address of the signer
	CreatedAt time.Time `json:"created_at"` // When verification succeeded
	LastSeen  time.Time `json:"last_seen"`  // Last authenticated request
}

// Tier is an ordered privilege level
type Tier int

const (
	TierPublic Tier = iota
	TierUser
	TierOwner
	TierTeam
)

func (t Tier) String() string {
	switch t {
	case TierUser:
		return "user"
	case TierOwner:
		return "owner"
	case TierTeam:
		return "team"
	default:
		return "public"
	}
}

// AtLeast reports whether t grants everything required grants
func (t Tier) AtLeast(required Tier) bool {
	return t >= required
}
