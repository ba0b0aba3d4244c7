package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

const (
	// DefaultChallengeTTL is how long a phrase can be signed and verified
	DefaultChallengeTTL = 15 * time.Minute

	// DefaultChallengeGrace is how long an expired phrase stays readable
	DefaultChallengeGrace = time.Minute

	phraseRandomBytes = 16
	maxIssueAttempts  = 3
)

// ChallengeIssuer creates and expires one-time login phrases
type ChallengeIssuer struct {
	store ports.PhraseStore
	ttl   time.Duration
	grace time.Duration

	now    func() time.Time
	random io.Reader
}

// NewChallengeIssuer creates an issuer; zero durations fall back to the defaults
func NewChallengeIssuer(store ports.PhraseStore, ttl, grace time.Duration) *ChallengeIssuer {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if grace <= 0 {
		grace = DefaultChallengeGrace
	}
	return &ChallengeIssuer{
		store:  store,
		ttl:    ttl,
		grace:  grace,
		now:    time.Now,
		random: rand.Reader,
	}
}

// TTL returns the phrase lifetime
func (c *ChallengeIssuer) TTL() time.Duration {
	return c.ttl
}

// Issue generates a unix-millisecond timestamp followed by random hex and stores it pending
func (c *ChallengeIssuer) Issue(ctx context.Context) (core.Phrase, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		now := c.now()
		value, err := c.newPhrase(now)
		if err != nil {
			return core.Phrase{}, core.Internal("failed to generate phrase", err)
		}

		phrase := core.Phrase{
			Value:     value,
			CreatedAt: now,
			ExpiresAt: now.Add(c.ttl),
			Status:    core.PhrasePending,
		}
		err = c.store.CreatePhrase(ctx, phrase, c.grace)
		if errors.Is(err, core.ErrPhraseExists) {
			continue
		}
		if err != nil {
			return core.Phrase{}, core.Internal("failed to store phrase", err)
		}
		return phrase, nil
	}
	return core.Phrase{}, core.Internal("failed to issue unique phrase", core.ErrPhraseExists)
}

func (c *ChallengeIssuer) newPhrase(now time.Time) (string, error) {
	buf := make([]byte, phraseRandomBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + hex.EncodeToString(buf), nil
}

// Get returns a stored phrase
func (c *ChallengeIssuer) Get(ctx context.Context, value string) (core.Phrase, error) {
	p, err := c.store.GetPhrase(ctx, value)
	if err != nil {
		return core.Phrase{}, classify("failed to load phrase", err)
	}
	return p, nil
}

// ListActive returns pending phrases that have not yet expired
func (c *ChallengeIssuer) ListActive(ctx context.Context) ([]core.Phrase, error) {
	phrases, err := c.store.PendingPhrases(ctx, c.now())
	if err != nil {
		return nil, core.Internal("failed to list phrases", err)
	}
	return phrases, nil
}

// SweepExpired expires overdue pending phrases and returns their values
func (c *ChallengeIssuer) SweepExpired(ctx context.Context) ([]string, error) {
	expired, err := c.store.ExpirePhrases(ctx, c.now(), c.grace)
	if err != nil {
		return expired, core.Internal("failed to expire phrases", err)
	}
	return expired, nil
}

// classify keeps domain errors and wraps everything else as internal
func classify(msg string, err error) error {
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	return core.Internal(msg, err)
}
