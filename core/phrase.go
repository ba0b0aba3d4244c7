package core

import "time"

// PhraseStatus is the lifecycle state of a login phrase
type PhraseStatus string

const (
	PhrasePending  PhraseStatus = "pending"
	PhraseVerified PhraseStatus = "verified"
	PhraseExpired  PhraseStatus = "expired"
)

// CanTransition reports whether moving from s to next is legal.
// Only a pending phrase moves, and only once.
func (s PhraseStatus) CanTransition(next PhraseStatus) bool {
	return s == PhrasePending && (next == PhraseVerified || next == PhraseExpired)
}

// Valid reports whether s is a known status
func (s PhraseStatus) Valid() bool {
	switch s {
	case PhrasePending, PhraseVerified, PhraseExpired:
		return true
	}
	return false
}

// Phrase represents a one-time login challenge
type Phrase struct {
	Value     string       // Text the client signs
	CreatedAt time.Time    // When the phrase was issued
	ExpiresAt time.Time    // After this instant the phrase cannot be verified
	Status    PhraseStatus // Current lifecycle state
}

// Transition moves the phrase to next or returns ErrIllegalTransition
func (p *Phrase) Transition(next PhraseStatus) error {
	if !p.Status.CanTransition(next) {
		return ErrIllegalTransition
	}
	p.Status = next
	return nil
}

// ExpiredAt reports whether the phrase is no longer verifiable at now
func (p Phrase) ExpiredAt(now time.Time) bool {
	return p.Status == PhraseExpired || !now.Before(p.ExpiresAt)
}

// CheckVerifiable returns the error verify must fail with at now, or nil.
// Expiry is reported ahead of a prior verification.
func (p Phrase) CheckVerifiable(now time.Time) error {
	switch {
	case p.ExpiredAt(now):
		return ErrPhraseExpired
	case p.Status == PhraseVerified:
		return ErrAlreadyVerified
	}
	return nil
}
