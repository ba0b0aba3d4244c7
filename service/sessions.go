package service

import (
	"context"
	"time"

	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

// Sessions is the service-level view of the session store
type Sessions struct {
	store       ports.SessionStore
	idleTimeout time.Duration
	now         func() time.Time
}

// NewSessions creates the session service. idleTimeout 0 disables idle expiry.
func NewSessions(store ports.SessionStore, idleTimeout time.Duration) *Sessions {
	return &Sessions{
		store:       store,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// ByToken resolves a live session and records the access
func (s *Sessions) ByToken(ctx context.Context, token string) (core.Session, error) {
	session, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		return core.Session{}, classify("failed to load session", err)
	}

	now := s.now()
	if s.idle(session, now) {
		return core.Session{}, core.ErrSessionNotFound
	}
	if err := s.store.TouchSession(ctx, token, now); err != nil {
		return core.Session{}, classify("failed to touch session", err)
	}
	session.LastSeen = now
	return session, nil
}

func (s *Sessions) ByAddress(ctx context.Context, address string) ([]core.Session, error) {
	sessions, err := s.store.SessionsByAddress(ctx, address)
	if err != nil {
		return nil, core.Internal("failed to list sessions", err)
	}
	return s.live(sessions), nil
}

func (s *Sessions) All(ctx context.Context) ([]core.Session, error) {
	sessions, err := s.store.AllSessions(ctx)
	if err != nil {
		return nil, core.Internal("failed to list sessions", err)
	}
	return s.live(sessions), nil
}

// idle reports whether session outlived the idle timeout at now
func (s *Sessions) idle(session core.Session, now time.Time) bool {
	return s.idleTimeout > 0 && now.Sub(session.LastSeen) > s.idleTimeout
}

// live drops idle sessions the sweeper has not removed yet
func (s *Sessions) live(sessions []core.Session) []core.Session {
	if s.idleTimeout <= 0 {
		return sessions
	}
	now := s.now()
	out := sessions[:0]
	for _, session := range sessions {
		if !s.idle(session, now) {
			out = append(out, session)
		}
	}
	return out
}

// Revoke removes a single session by token
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return classify("failed to revoke session", err)
	}
	return nil
}

// RevokeByPhrase removes the session created from phrase. Knowing the phrase
// is the authorization: only the session owner ever learns it.
func (s *Sessions) RevokeByPhrase(ctx context.Context, phrase string) (core.Session, error) {
	session, err := s.store.DeleteSessionByPhrase(ctx, phrase)
	if err != nil {
		return core.Session{}, classify("failed to revoke session", err)
	}
	return session, nil
}

func (s *Sessions) RevokeAllForAddress(ctx context.Context, address string) (int, error) {
	n, err := s.store.DeleteSessionsByAddress(ctx, address)
	if err != nil {
		return 0, core.Internal("failed to revoke sessions", err)
	}
	return n, nil
}

func (s *Sessions) RevokeAll(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAllSessions(ctx)
	if err != nil {
		return 0, core.Internal("failed to revoke sessions", err)
	}
	return n, nil
}

// SweepIdle removes sessions idle for longer than the timeout
func (s *Sessions) SweepIdle(ctx context.Context) (int, error) {
	if s.idleTimeout <= 0 {
		return 0, nil
	}
	n, err := s.store.DeleteIdleSessions(ctx, s.now().Add(-s.idleTimeout))
	if err != nil {
		return 0, core.Internal("failed to sweep idle sessions", err)
	}
	return n, nil
}
