package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/internal/eth"
	"github.com/layer-3/zelid/ports"
)

const maxPhraseLength = 128

// VerifyRequest is a signed login attempt
type VerifyRequest struct {
	Phrase    string `json:"loginPhrase"`
	Address   string `json:"zelid"`
	Signature string `json:"signature"`
}

// Validate checks the request shape before it reaches the stores
func (r VerifyRequest) Validate() error {
	if r.Phrase == "" || len(r.Phrase) > maxPhraseLength || strings.TrimSpace(r.Phrase) != r.Phrase {
		return core.Validation("malformed login phrase")
	}
	if _, err := eth.ParseAddress(r.Address); err != nil {
		return core.Validation("malformed address")
	}
	if _, err := eth.DecodeSignature(r.Signature); err != nil {
		return core.Validation("malformed signature")
	}
	return nil
}

// SignatureVerifier validates a signature over a phrase and mints the session
type SignatureVerifier struct {
	phrases  ports.PhraseStore
	sessions ports.SessionStore
	now      func() time.Time
}

// NewSignatureVerifier creates a verifier over the given stores
func NewSignatureVerifier(phrases ports.PhraseStore, sessions ports.SessionStore) *SignatureVerifier {
	return &SignatureVerifier{
		phrases:  phrases,
		sessions: sessions,
		now:      time.Now,
	}
}

// Verify checks, in order: phrase known, not expired, not verified, signature
// recovers to the claimed address. The phrase is marked verified and the
// session created atomically; concurrent losers get ErrAlreadyVerified.
func (v *SignatureVerifier) Verify(ctx context.Context, req VerifyRequest) (core.Session, error) {
	if err := req.Validate(); err != nil {
		return core.Session{}, err
	}

	phrase, err := v.phrases.GetPhrase(ctx, req.Phrase)
	if err != nil {
		return core.Session{}, classify("failed to load phrase", err)
	}
	now := v.now()
	if err := phrase.CheckVerifiable(now); err != nil {
		return core.Session{}, err
	}

	address, err := eth.ParseAddress(req.Address)
	if err != nil {
		return core.Session{}, core.Validation("malformed address")
	}
	ok, err := eth.VerifyPersonalSignature(phrase.Value, req.Signature, address)
	if err != nil {
		if errors.Is(err, eth.ErrMalformedSignature) {
			return core.Session{}, core.Validation("malformed signature")
		}
		return core.Session{}, &core.Error{Kind: core.KindInvalidSignature, Msg: core.ErrInvalidSignature.Msg, Err: err}
	}
	if !ok {
		return core.Session{}, core.ErrInvalidSignature
	}

	session := core.Session{
		Token:     uuid.NewString(),
		Phrase:    phrase.Value,
		Address:   address.Hex(),
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := v.sessions.CommitVerification(ctx, session, now); err != nil {
		return core.Session{}, classify("failed to commit verification", err)
	}
	return session, nil
}
