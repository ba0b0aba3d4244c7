package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	<prefix>phrase:<value>          hash {status, created_at, expires_at}, expires at expiry+retain
//	<prefix>phrases:pending         zset of pending phrase values scored by expires_at (ms)
//	<prefix>session:<token>         session JSON
//	<prefix>sessions                set of all tokens
//	<prefix>address:<address>       set of tokens for an address
//	<prefix>phrase-session:<value>  token created from a phrase
const defaultPrefix = "zelid:"

var createPhraseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'created_at', ARGV[1], 'expires_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
return 1
`)

var expirePhraseScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('HGET', KEYS[1], 'status') == 'pending' then
  redis.call('HSET', KEYS[1], 'status', 'expired')
  return 1
end
return 0
`)

var commitVerificationScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 'not_found'
end
if status == 'expired' then
  return 'expired'
end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at')) <= tonumber(ARGV[1]) then
  return 'expired'
end
if status ~= 'pending' then
  return 'verified'
end
redis.call('HSET', KEYS[1], 'status', 'verified')
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ARGV[3])
redis.call('SADD', KEYS[4], ARGV[4])
redis.call('SADD', KEYS[5], ARGV[4])
redis.call('SET', KEYS[6], ARGV[4])
return 'ok'
`)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
	}
}

var _ ports.Store = (*RedisStore)(nil)

func (s *RedisStore) phraseKey(value string) string {
	return s.prefix + "phrase:" + value
}

func (s *RedisStore) pendingKey() string {
	return s.prefix + "phrases:pending"
}

func (s *RedisStore) sessionKey(token string) string {
	return s.prefix + "session:" + token
}

func (s *RedisStore) sessionsKey() string {
	return s.prefix + "sessions"
}

func (s *RedisStore) addressKey(addr string) string {
	return s.prefix + "address:" + addr
}

func (s *RedisStore) phraseSessionKey(v string) string {
	return s.prefix + "phrase-session:" + v
}

// CreatePhrase stores a pending phrase whose key expires retain after ExpiresAt
func (s *RedisStore) CreatePhrase(ctx context.Context, phrase core.Phrase, retain time.Duration) error {
	created, err := createPhraseScript.Run(ctx, s.client,
		[]string{s.phraseKey(phrase.Value), s.pendingKey()},
		phrase.CreatedAt.UnixMilli(),
		phrase.ExpiresAt.UnixMilli(),
		phrase.ExpiresAt.Add(retain).UnixMilli(),
		phrase.Value,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create phrase: %w", err)
	}
	if created == 0 {
		return core.ErrPhraseExists
	}
	return nil
}

func (s *RedisStore) GetPhrase(ctx context.Context, value string) (core.Phrase, error) {
	fields, err := s.client.HGetAll(ctx, s.phraseKey(value)).Result()
	if err != nil {
		return core.Phrase{}, fmt.Errorf("failed to get phrase: %w", err)
	}
	if len(fields) == 0 {
		return core.Phrase{}, core.ErrPhraseNotFound
	}
	return decodePhrase(value, fields)
}

func (s *RedisStore) PendingPhrases(ctx context.Context, now time.Time) ([]core.Phrase, error) {
	values, err := s.client.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending phrases: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(values))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range values {
			cmds[i] = pipe.HGetAll(ctx, s.phraseKey(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pending phrases: %w", err)
	}

	out := make([]core.Phrase, 0, len(values))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodePhrase(values[i], fields)
		if err != nil {
			return nil, err
		}
		if p.Status == core.PhrasePending {
			out = append(out, p)
		}
	}
	return out, nil
}

// ExpirePhrases marks overdue pending phrases expired. Eviction is left to
// the key TTL set at creation, so grace is not consulted.
func (s *RedisStore) ExpirePhrases(ctx context.Context, now time.Time, grace time.Duration) ([]string, error) {
	values, err := s.client.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue phrases: %w", err)
	}

	var expired []string
	for _, v := range values {
		n, err := expirePhraseScript.Run(ctx, s.client, []string{s.phraseKey(v), s.pendingKey()}, v).Int()
		if err != nil {
			return expired, fmt.Errorf("failed to expire phrase: %w", err)
		}
		if n == 1 {
			expired = append(expired, v)
		}
	}
	return expired, nil
}

func (s *RedisStore) CommitVerification(ctx context.Context, session core.Session, now time.Time) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	res, err := commitVerificationScript.Run(ctx, s.client,
		[]string{
			s.phraseKey(session.Phrase),
			s.pendingKey(),
			s.sessionKey(session.Token),
			s.sessionsKey(),
			s.addressKey(session.Address),
			s.phraseSessionKey(session.Phrase),
		},
		now.UnixMilli(),
		session.Phrase,
		payload,
		session.Token,
	).Text()
	if err != nil {
		return fmt.Errorf("failed to commit verification: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "not_found":
		return core.ErrPhraseNotFound
	case "verified":
		return core.ErrAlreadyVerified
	case "expired":
		return core.ErrPhraseExpired
	default:
		return fmt.Errorf("unexpected commit result %q", res)
	}
}

func (s *RedisStore) SessionByToken(ctx context.Context, token string) (core.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Session{}, core.ErrSessionNotFound
		}
		return core.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	var session core.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return core.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

func (s *RedisStore) SessionsByAddress(ctx context.Context, address string) ([]core.Session, error) {
	tokens, err := s.client.SMembers(ctx, s.addressKey(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return s.loadSessions(ctx, tokens)
}

func (s *RedisStore) AllSessions(ctx context.Context) ([]core.Session, error) {
	tokens, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return s.loadSessions(ctx, tokens)
}

func (s *RedisStore) loadSessions(ctx context.Context, tokens []string) ([]core.Session, error) {
	if len(tokens) == 0 {
		return []core.Session{}, nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = s.sessionKey(t)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	out := make([]core.Session, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// deleted between SMEMBERS and MGET
			continue
		}
		var session core.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		out = append(out, session)
	}
	sortSessions(out)
	return out, nil
}

func (s *RedisStore) TouchSession(ctx context.Context, token string, at time.Time) error {
	session, err := s.SessionByToken(ctx, token)
	if err != nil {
		return err
	}
	if !at.After(session.LastSeen) {
		return nil
	}
	session.LastSeen = at
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	// XX keeps a concurrently revoked session deleted
	if err := s.client.SetXX(ctx, s.sessionKey(token), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, token string) error {
	session, err := s.SessionByToken(ctx, token)
	if err != nil {
		return err
	}
	return s.deleteSessions(ctx, []core.Session{session})
}

func (s *RedisStore) DeleteSessionByPhrase(ctx context.Context, phrase string) (core.Session, error) {
	token, err := s.client.Get(ctx, s.phraseSessionKey(phrase)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Session{}, core.ErrSessionNotFound
		}
		return core.Session{}, fmt.Errorf("failed to resolve phrase: %w", err)
	}
	session, err := s.SessionByToken(ctx, token)
	if err != nil {
		return core.Session{}, err
	}
	if err := s.deleteSessions(ctx, []core.Session{session}); err != nil {
		return core.Session{}, err
	}
	return session, nil
}

func (s *RedisStore) DeleteSessionsByAddress(ctx context.Context, address string) (int, error) {
	sessions, err := s.SessionsByAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	if err := s.deleteSessions(ctx, sessions); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *RedisStore) DeleteAllSessions(ctx context.Context) (int, error) {
	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.deleteSessions(ctx, sessions); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *RedisStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return 0, err
	}
	idle := sessions[:0]
	for _, session := range sessions {
		if session.LastSeen.Before(cutoff) {
			idle = append(idle, session)
		}
	}
	if err := s.deleteSessions(ctx, idle); err != nil {
		return 0, err
	}
	return len(idle), nil
}

// deleteSessions removes sessions from every index inside one MULTI/EXEC
func (s *RedisStore) deleteSessions(ctx context.Context, sessions []core.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, session := range sessions {
			pipe.Del(ctx, s.sessionKey(session.Token), s.phraseSessionKey(session.Phrase))
			pipe.SRem(ctx, s.sessionsKey(), session.Token)
			pipe.SRem(ctx, s.addressKey(session.Address), session.Token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// Client returns the Redis client so the event publisher can share it
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodePhrase(value string, fields map[string]string) (core.Phrase, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return core.Phrase{}, fmt.Errorf("failed to decode phrase: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return core.Phrase{}, fmt.Errorf("failed to decode phrase: %w", err)
	}
	status := core.PhraseStatus(fields["status"])
	if !status.Valid() {
		return core.Phrase{}, fmt.Errorf("failed to decode phrase: unknown status %q", status)
	}
	return core.Phrase{
		Value:     value,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
		Status:    status,
	}, nil
}
