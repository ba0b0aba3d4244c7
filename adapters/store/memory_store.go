package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Sessions do not survive a restart.
type MemoryStore struct {
	mu sync.RWMutex

	phrases map[string]core.Phrase

	sessions  map[string]core.Session        // token -> session
	byAddress map[string]map[string]struct{} // address -> tokens
	byPhrase  map[string]string              // phrase -> token
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		phrases:   make(map[string]core.Phrase),
		sessions:  make(map[string]core.Session),
		byAddress: make(map[string]map[string]struct{}),
		byPhrase:  make(map[string]string),
	}
}

var _ ports.Store = (*MemoryStore)(nil)

// CreatePhrase stores a pending phrase. Eviction is driven by ExpirePhrases,
// so retain is unused here.
func (s *MemoryStore) CreatePhrase(ctx context.Context, phrase core.Phrase, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.phrases[phrase.Value]; exists {
		return core.ErrPhraseExists
	}
	phrase.Status = core.PhrasePending
	s.phrases[phrase.Value] = phrase
	return nil
}

func (s *MemoryStore) GetPhrase(ctx context.Context, value string) (core.Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.phrases[value]
	if !ok {
		return core.Phrase{}, core.ErrPhraseNotFound
	}
	return p, nil
}

func (s *MemoryStore) PendingPhrases(ctx context.Context, now time.Time) ([]core.Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Phrase, 0, len(s.phrases))
	for _, p := range s.phrases {
		if p.Status == core.PhrasePending && now.Before(p.ExpiresAt) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ExpirePhrases(ctx context.Context, now time.Time, grace time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for value, p := range s.phrases {
		if now.Before(p.ExpiresAt) {
			continue
		}
		if p.Status == core.PhrasePending {
			_ = p.Transition(core.PhraseExpired)
			s.phrases[value] = p
			expired = append(expired, value)
		}
		if !now.Before(p.ExpiresAt.Add(grace)) {
			delete(s.phrases, value)
		}
	}
	return expired, nil
}

func (s *MemoryStore) CommitVerification(ctx context.Context, session core.Session, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.phrases[session.Phrase]
	if !ok {
		return core.ErrPhraseNotFound
	}
	if err := p.CheckVerifiable(now); err != nil {
		return err
	}
	if err := p.Transition(core.PhraseVerified); err != nil {
		return core.ErrAlreadyVerified
	}
	s.phrases[session.Phrase] = p
	s.insertSession(session)
	return nil
}

func (s *MemoryStore) insertSession(session core.Session) {
	s.sessions[session.Token] = session
	tokens, ok := s.byAddress[session.Address]
	if !ok {
		tokens = make(map[string]struct{})
		s.byAddress[session.Address] = tokens
	}
	tokens[session.Token] = struct{}{}
	s.byPhrase[session.Phrase] = session.Token
}

// removeSession drops a session from every index. Callers hold the write lock.
func (s *MemoryStore) removeSession(token string) bool {
	session, ok := s.sessions[token]
	if !ok {
		return false
	}
	delete(s.sessions, token)
	if tokens, ok := s.byAddress[session.Address]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(s.byAddress, session.Address)
		}
	}
	if s.byPhrase[session.Phrase] == token {
		delete(s.byPhrase, session.Phrase)
	}
	return true
}

func (s *MemoryStore) SessionByToken(ctx context.Context, token string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return core.Session{}, core.ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) SessionsByAddress(ctx context.Context, address string) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Session, 0, len(s.byAddress[address]))
	for token := range s.byAddress[address] {
		out = append(out, s.sessions[token])
	}
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) AllSessions(ctx context.Context) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return core.ErrSessionNotFound
	}
	if at.After(session.LastSeen) {
		session.LastSeen = at
		s.sessions[token] = session
	}
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeSession(token) {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteSessionByPhrase(ctx context.Context, phrase string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byPhrase[phrase]
	if !ok {
		return core.Session{}, core.ErrSessionNotFound
	}
	session := s.sessions[token]
	if !s.removeSession(token) {
		return core.Session{}, core.ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) DeleteSessionsByAddress(ctx context.Context, address string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token := range s.byAddress[address] {
		if s.removeSession(token) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAllSessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]core.Session)
	s.byAddress = make(map[string]map[string]struct{})
	s.byPhrase = make(map[string]string)
	return n, nil
}

func (s *MemoryStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, session := range s.sessions {
		if session.LastSeen.Before(cutoff) && s.removeSession(token) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

func sortSessions(sessions []core.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Token < sessions[j].Token
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
