package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/zelid/adapters/store"
	"github.com/layer-3/zelid/adapters/tokenizer"
	"github.com/layer-3/zelid/internal/eth"
	"github.com/layer-3/zelid/ports"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, phrase string) string {
	t.Helper()
	sig, err := eth.SignPersonal(phrase, w.key)
	require.NoError(t, err)
	return sig
}

func (w wallet) login(t *testing.T, phrase string) VerifyRequest {
	return VerifyRequest{Phrase: phrase, Address: w.address, Signature: w.sign(t, phrase)}
}

type recordingPublisher struct {
	mu      sync.Mutex
	logins  []string
	logouts []string
}

func (p *recordingPublisher) PublishLogin(_ context.Context, address, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, address)
	return nil
}

func (p *recordingPublisher) PublishLogout(_ context.Context, address, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, address)
	return nil
}

type testEnv struct {
	svc    *AuthService
	store  *store.MemoryStore
	clock  *clock
	events *recordingPublisher
	owner  wallet
	team   wallet
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemoryStore(),
		clock:  newClock(),
		events: &recordingPublisher{},
		owner:  newWallet(t),
		team:   newWallet(t),
	}

	access, err := NewAccessControl(env.owner.address, []string{env.team.address})
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	env.svc = NewAuthService(env.store, tokenizer.NewJWTTokenizer(key), env.events, access, watermill.NopLogger{}, opts)
	env.svc.issuer.now = env.clock.Now
	env.svc.verifier.now = env.clock.Now
	env.svc.sessions.now = env.clock.Now
	env.svc.hub.now = env.clock.Now
	return env
}

// fakeConn records what the hub sends
type fakeConn struct {
	mu      sync.Mutex
	results []ports.Result
	code    int
	reason  string
	closes  int
	closed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) Deliver(result ports.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes > 1 {
		return
	}
	c.code = code
	c.reason = reason
	close(c.closed)
}

func (c *fakeConn) snapshot() ([]ports.Result, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.Result(nil), c.results...), c.code, c.closes
}
