package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

// Options tune the lifetimes used by AuthService
type Options struct {
	ChallengeTTL       time.Duration
	ChallengeGrace     time.Duration
	SessionIdleTimeout time.Duration
}

// LoginResult is returned by a successful verification
type LoginResult struct {
	Session core.Session
	Token   string // bearer form of Session.Token
}

// AuthService handles authentication business logic
type AuthService struct {
	log       watermill.LoggerAdapter
	issuer    *ChallengeIssuer
	verifier  *SignatureVerifier
	sessions  *Sessions
	access    *AccessControl
	hub       *NotificationHub
	tokenizer ports.Tokenizer
	eventPub  ports.EventPublisher
}

// NewAuthService creates a new authentication service
func NewAuthService(
	store ports.Store,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	access *AccessControl,
	logger watermill.LoggerAdapter,
	opts Options,
) *AuthService {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if eventPub == nil {
		eventPub = nopPublisher{}
	}
	logger = logger.With(watermill.LogFields{"component": "auth"})
	return &AuthService{
		log:       logger,
		issuer:    NewChallengeIssuer(store, opts.ChallengeTTL, opts.ChallengeGrace),
		verifier:  NewSignatureVerifier(store, store),
		sessions:  NewSessions(store, opts.SessionIdleTimeout),
		access:    access,
		hub:       NewNotificationHub(store, logger),
		tokenizer: tokenizer,
		eventPub:  eventPub,
	}
}

// Hub exposes the notification hub to the transport layer
func (s *AuthService) Hub() *NotificationHub {
	return s.hub
}

// IssueChallenge generates a new login phrase
func (s *AuthService) IssueChallenge(ctx context.Context) (core.Phrase, error) {
	phrase, err := s.issuer.Issue(ctx)
	if err != nil {
		s.log.Error("Failed to issue login phrase", err, nil)
		return core.Phrase{}, err
	}
	s.log.Debug("Issued login phrase", watermill.LogFields{"phrase": phrase.Value, "expires_at": phrase.ExpiresAt})
	return phrase, nil
}

// ActiveChallenges lists pending phrases
func (s *AuthService) ActiveChallenges(ctx context.Context, caller *core.Session) ([]core.Phrase, error) {
	if err := s.access.Authorize(caller, TierActiveChallenges); err != nil {
		return nil, err
	}
	return s.issuer.ListActive(ctx)
}

// VerifyLogin authenticates a signed phrase, creates the session and
// notifies the connection waiting on the phrase
func (s *AuthService) VerifyLogin(ctx context.Context, req VerifyRequest) (LoginResult, error) {
	session, err := s.verifier.Verify(ctx, req)
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			s.log.Error("Login verification failed", err, watermill.LogFields{"phrase": req.Phrase})
		} else {
			s.log.Debug("Login rejected", watermill.LogFields{"phrase": req.Phrase, "reason": core.KindOf(err).String()})
		}
		return LoginResult{}, err
	}

	bearer, err := s.tokenizer.Encode(session.Token, session.Address)
	if err != nil {
		// the session exists but the client cannot use it; the phrase stays verified
		s.log.Error("Failed to encode session token", err, watermill.LogFields{"phrase": session.Phrase})
		if revokeErr := s.sessions.Revoke(ctx, session.Token); revokeErr != nil {
			s.log.Error("Failed to revoke unusable session", revokeErr, watermill.LogFields{"address": session.Address})
		}
		return LoginResult{}, core.Internal("failed to create token", err)
	}

	s.hub.OnVerified(session.Phrase, bearer)

	if err := s.eventPub.PublishLogin(ctx, session.Address, session.Token); err != nil {
		s.log.Error("Failed to publish login event", err, watermill.LogFields{"address": session.Address})
	}
	s.log.Info("Login verified", watermill.LogFields{"address": session.Address})

	return LoginResult{Session: session, Token: bearer}, nil
}

// Subscribe waits on phrase over conn; see NotificationHub.Subscribe
func (s *AuthService) Subscribe(ctx context.Context, phrase string, conn ports.Conn) error {
	return s.hub.Subscribe(ctx, phrase, conn)
}

// Unsubscribe drops a waiting connection
func (s *AuthService) Unsubscribe(phrase string, conn ports.Conn) {
	s.hub.Unsubscribe(phrase, conn)
}

// Authenticate resolves a bearer token to its live session
func (s *AuthService) Authenticate(ctx context.Context, bearer string) (core.Session, error) {
	id, err := s.tokenizer.Decode(bearer)
	if err != nil {
		return core.Session{}, core.ErrUnauthenticated
	}
	session, err := s.sessions.ByToken(ctx, id)
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			return core.Session{}, core.ErrUnauthenticated
		}
		return core.Session{}, err
	}
	return session, nil
}

// TierOf classifies a caller, TierPublic when unauthenticated
func (s *AuthService) TierOf(caller *core.Session) core.Tier {
	return s.access.TierOfSession(caller)
}

// Authorize checks the caller against a required tier
func (s *AuthService) Authorize(caller *core.Session, required core.Tier) error {
	return s.access.Authorize(caller, required)
}

// SessionsForCaller lists the sessions of the caller's address
func (s *AuthService) SessionsForCaller(ctx context.Context, caller *core.Session) ([]core.Session, error) {
	if err := s.access.Authorize(caller, TierSessionsForCaller); err != nil {
		return nil, err
	}
	return s.sessions.ByAddress(ctx, caller.Address)
}

// AllSessions lists every session
func (s *AuthService) AllSessions(ctx context.Context, caller *core.Session) ([]core.Session, error) {
	if err := s.access.Authorize(caller, TierAllSessions); err != nil {
		return nil, err
	}
	return s.sessions.All(ctx)
}

// LogoutCurrent revokes the caller's own session
func (s *AuthService) LogoutCurrent(ctx context.Context, caller *core.Session) error {
	if err := s.access.Authorize(caller, TierLogoutCurrent); err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, caller.Token); err != nil {
		return err
	}
	s.publishLogout(ctx, caller.Address, caller.Token)
	return nil
}

// LogoutSpecific revokes the session created from phrase
func (s *AuthService) LogoutSpecific(ctx context.Context, phrase string) error {
	if phrase == "" || len(phrase) > maxPhraseLength {
		return core.Validation("malformed login phrase")
	}
	session, err := s.sessions.RevokeByPhrase(ctx, phrase)
	if err != nil {
		return err
	}
	s.publishLogout(ctx, session.Address, session.Token)
	return nil
}

// LogoutAllForAddress revokes every session of address. An empty address
// means the caller's own. Other addresses need the owner tier.
func (s *AuthService) LogoutAllForAddress(ctx context.Context, caller *core.Session, address string) (int, error) {
	if err := s.access.Authorize(caller, TierLogoutSelf); err != nil {
		return 0, err
	}
	target := caller.Address
	if address != "" {
		canonical, err := canonicalAddress(address)
		if err != nil {
			return 0, err
		}
		target = canonical
	}
	if target != caller.Address {
		if err := s.access.Authorize(caller, TierLogoutOther); err != nil {
			return 0, err
		}
	}

	n, err := s.sessions.RevokeAllForAddress(ctx, target)
	if err != nil {
		return 0, err
	}
	s.publishLogout(ctx, target, "")
	s.log.Info("Revoked sessions for address", watermill.LogFields{"address": target, "count": n})
	return n, nil
}

// LogoutAll revokes every session
func (s *AuthService) LogoutAll(ctx context.Context, caller *core.Session) (int, error) {
	if err := s.access.Authorize(caller, TierLogoutAll); err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAll(ctx)
	if err != nil {
		return 0, err
	}
	s.publishLogout(ctx, "", "")
	s.log.Info("Revoked all sessions", watermill.LogFields{"count": n, "by": caller.Address})
	return n, nil
}

// Sweep expires overdue phrases, notifies their subscribers and drops idle sessions
func (s *AuthService) Sweep(ctx context.Context) error {
	expired, err := s.issuer.SweepExpired(ctx)
	for _, phrase := range expired {
		s.hub.OnExpired(phrase)
	}
	if err != nil {
		return err
	}

	n, err := s.sessions.SweepIdle(ctx)
	if err != nil {
		return err
	}
	if len(expired) > 0 || n > 0 {
		s.log.Debug("Sweep finished", watermill.LogFields{"expired_phrases": len(expired), "idle_sessions": n})
	}
	return nil
}

// Shutdown drains waiting connections
func (s *AuthService) Shutdown() {
	s.hub.Shutdown()
}

func (s *AuthService) publishLogout(ctx context.Context, address, tokenID string) {
	// The session is already gone from the store, which is the critical part
	if err := s.eventPub.PublishLogout(ctx, address, tokenID); err != nil {
		s.log.Error("Failed to publish logout event", err, watermill.LogFields{"address": address})
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishLogin(context.Context, string, string) error  { return nil }
func (nopPublisher) PublishLogout(context.Context, string, string) error { return nil }
