package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

func pendingPhrase(value string, now time.Time, ttl time.Duration) core.Phrase {
	return core.Phrase{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    core.PhrasePending,
	}
}

func newSession(phrase, address string, now time.Time) core.Session {
	return core.Session{
		Token:     uuid.NewString(),
		Phrase:    phrase,
		Address:   address,
		CreatedAt: now,
		LastSeen:  now,
	}
}

// runStoreContract exercises the behaviour every ports.Store must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) ports.Store) {
	ctx := context.Background()

	t.Run("create_phrase_unique", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		p := pendingPhrase(uuid.NewString(), now, time.Minute)
		require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
		require.ErrorIs(t, s.CreatePhrase(ctx, p, time.Minute), core.ErrPhraseExists)

		got, err := s.GetPhrase(ctx, p.Value)
		require.NoError(t, err)
		assert.Equal(t, core.PhrasePending, got.Status)
		assert.Equal(t, p.ExpiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())

		_, err = s.GetPhrase(ctx, "missing")
		require.ErrorIs(t, err, core.ErrPhraseNotFound)
	})

	t.Run("pending_excludes_overdue", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		live := pendingPhrase(uuid.NewString(), now, time.Minute)
		overdue := pendingPhrase(uuid.NewString(), now.Add(-2*time.Minute), time.Minute)
		require.NoError(t, s.CreatePhrase(ctx, live, time.Hour))
		require.NoError(t, s.CreatePhrase(ctx, overdue, time.Hour))

		pending, err := s.PendingPhrases(ctx, now)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, live.Value, pending[0].Value)
	})

	t.Run("expire_phrases", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		overdue := pendingPhrase(uuid.NewString(), now.Add(-2*time.Minute), time.Minute)
		live := pendingPhrase(uuid.NewString(), now, time.Minute)
		require.NoError(t, s.CreatePhrase(ctx, overdue, time.Hour))
		require.NoError(t, s.CreatePhrase(ctx, live, time.Hour))

		expired, err := s.ExpirePhrases(ctx, now, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []string{overdue.Value}, expired)

		got, err := s.GetPhrase(ctx, overdue.Value)
		require.NoError(t, err)
		assert.Equal(t, core.PhraseExpired, got.Status)

		// already expired phrases are not reported twice
		expired, err = s.ExpirePhrases(ctx, now, time.Hour)
		require.NoError(t, err)
		assert.Empty(t, expired)

		err = s.CommitVerification(ctx, newSession(overdue.Value, testAddress, now), now)
		require.ErrorIs(t, err, core.ErrPhraseExpired)
	})

	t.Run("commit_verification_once", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		p := pendingPhrase(uuid.NewString(), now, time.Minute)
		require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))

		session := newSession(p.Value, testAddress, now)
		require.NoError(t, s.CommitVerification(ctx, session, now))
		require.ErrorIs(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, now), now), core.ErrAlreadyVerified)

		got, err := s.GetPhrase(ctx, p.Value)
		require.NoError(t, err)
		assert.Equal(t, core.PhraseVerified, got.Status)

		byToken, err := s.SessionByToken(ctx, session.Token)
		require.NoError(t, err)
		assert.Equal(t, session.Address, byToken.Address)
		assert.Equal(t, session.Phrase, byToken.Phrase)

		pending, err := s.PendingPhrases(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("commit_verification_rejects", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		require.ErrorIs(t, s.CommitVerification(ctx, newSession("unknown", testAddress, now), now), core.ErrPhraseNotFound)

		p := pendingPhrase(uuid.NewString(), now, time.Second)
		require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
		later := now.Add(2 * time.Second)
		require.ErrorIs(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, later), later), core.ErrPhraseExpired)
	})

	t.Run("commit_verification_verified_then_expired", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		p := pendingPhrase(uuid.NewString(), now, time.Second)
		require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
		require.NoError(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, now), now))

		require.ErrorIs(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, now), now), core.ErrAlreadyVerified)
		later := now.Add(2 * time.Second)
		require.ErrorIs(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, later), later), core.ErrPhraseExpired)
	})

	t.Run("commit_verification_concurrent", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		p := pendingPhrase(uuid.NewString(), now, time.Minute)
		require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))

		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.CommitVerification(ctx, newSession(p.Value, testAddress, now), now)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, core.ErrAlreadyVerified)
		}
		assert.Equal(t, 1, ok)

		all, err := s.AllSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("session_indexes", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		other := "0x0000000000000000000000000000000000000001"

		var sessions []core.Session
		for i, addr := range []string{testAddress, testAddress, other} {
			p := pendingPhrase(uuid.NewString(), now, time.Minute)
			require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
			session := newSession(p.Value, addr, now.Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, s.CommitVerification(ctx, session, now))
			sessions = append(sessions, session)
		}

		mine, err := s.SessionsByAddress(ctx, testAddress)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, sessions[0].Token, mine[0].Token)

		all, err := s.AllSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		require.NoError(t, s.DeleteSession(ctx, sessions[0].Token))
		require.ErrorIs(t, s.DeleteSession(ctx, sessions[0].Token), core.ErrSessionNotFound)
		_, err = s.SessionByToken(ctx, sessions[0].Token)
		require.ErrorIs(t, err, core.ErrSessionNotFound)
		mine, err = s.SessionsByAddress(ctx, testAddress)
		require.NoError(t, err)
		assert.Len(t, mine, 1)
		_, err = s.DeleteSessionByPhrase(ctx, sessions[0].Phrase)
		require.ErrorIs(t, err, core.ErrSessionNotFound)

		revoked, err := s.DeleteSessionByPhrase(ctx, sessions[1].Phrase)
		require.NoError(t, err)
		assert.Equal(t, sessions[1].Token, revoked.Token)
		_, err = s.SessionByToken(ctx, sessions[1].Token)
		require.ErrorIs(t, err, core.ErrSessionNotFound)

		n, err := s.DeleteAllSessions(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		all, err = s.AllSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete_by_address", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		for i := 0; i < 3; i++ {
			p := pendingPhrase(uuid.NewString(), now, time.Minute)
			require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
			require.NoError(t, s.CommitVerification(ctx, newSession(p.Value, testAddress, now), now))
		}
		n, err := s.DeleteSessionsByAddress(ctx, testAddress)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.DeleteSessionsByAddress(ctx, testAddress)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("touch_and_idle", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		var tokens []string
		for i := 0; i < 2; i++ {
			p := pendingPhrase(uuid.NewString(), now, time.Minute)
			require.NoError(t, s.CreatePhrase(ctx, p, time.Minute))
			session := newSession(p.Value, testAddress, now)
			require.NoError(t, s.CommitVerification(ctx, session, now))
			tokens = append(tokens, session.Token)
		}

		require.NoError(t, s.TouchSession(ctx, tokens[1], now.Add(time.Hour)))
		got, err := s.SessionByToken(ctx, tokens[1])
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Hour).UnixMilli(), got.LastSeen.UnixMilli())

		n, err := s.DeleteIdleSessions(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.SessionByToken(ctx, tokens[0])
		require.ErrorIs(t, err, core.ErrSessionNotFound)
		require.ErrorIs(t, s.TouchSession(ctx, tokens[0], now), core.ErrSessionNotFound)
	})
}
