package ports

import (
	"context"
	"time"

	"github.com/layer-3/zelid/core"
)

// PhraseStore keeps login phrases for their TTL-bounded lifetime
type PhraseStore interface {
	// CreatePhrase stores a pending phrase, ErrPhraseExists if the value is taken
	CreatePhrase(ctx context.Context, phrase core.Phrase, retain time.Duration) error
	// GetPhrase returns ErrPhraseNotFound for unknown or evicted phrases
	GetPhrase(ctx context.Context, value string) (core.Phrase, error)
	// PendingPhrases lists pending phrases still verifiable at now
	PendingPhrases(ctx context.Context, now time.Time) ([]core.Phrase, error)
	// ExpirePhrases moves pending phrases past their expiry to expired,
	// evicts phrases past expiry+grace and returns the newly expired values
	ExpirePhrases(ctx context.Context, now time.Time, grace time.Duration) ([]string, error)
}

// SessionStore keeps authenticated sessions indexed by token, address and phrase
type SessionStore interface {
	// CommitVerification marks the phrase verified and creates the session in
	// one atomic step. It fails with ErrPhraseNotFound, ErrPhraseExpired or
	// ErrAlreadyVerified if the phrase is not pending and verifiable at now.
	CommitVerification(ctx context.Context, session core.Session, now time.Time) error
	SessionByToken(ctx context.Context, token string) (core.Session, error)
	SessionsByAddress(ctx context.Context, address string) ([]core.Session, error)
	AllSessions(ctx context.Context) ([]core.Session, error)
	// TouchSession updates LastSeen, never resurrecting a deleted session
	TouchSession(ctx context.Context, token string, at time.Time) error
	DeleteSession(ctx context.Context, token string) error
	// DeleteSessionByPhrase removes and returns the session created from phrase
	DeleteSessionByPhrase(ctx context.Context, phrase string) (core.Session, error)
	DeleteSessionsByAddress(ctx context.Context, address string) (int, error)
	DeleteAllSessions(ctx context.Context) (int, error)
	// DeleteIdleSessions removes sessions last seen before cutoff
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is the full persistence surface
type Store interface {
	PhraseStore
	SessionStore
	Close() error
}
