package service

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

// NotificationHub holds connections waiting for the outcome of a phrase.
// At most one connection waits per phrase; a second subscriber is rejected.
type NotificationHub struct {
	log     watermill.LoggerAdapter
	phrases ports.PhraseStore
	now     func() time.Time

	mu     sync.Mutex
	subs   map[string]ports.Conn
	closed bool
}

// NewNotificationHub creates an empty hub
func NewNotificationHub(phrases ports.PhraseStore, logger watermill.LoggerAdapter) *NotificationHub {
	return &NotificationHub{
		log:     logger,
		phrases: phrases,
		now:     time.Now,
		subs:    make(map[string]ports.Conn),
	}
}

// Subscribe registers conn for phrase. When the phrase is already resolved or
// another connection waits on it, conn is closed with a coded reason and an
// error is returned.
func (h *NotificationHub) Subscribe(ctx context.Context, phrase string, conn ports.Conn) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(ports.CloseShutdown, "server shutting down")
		return core.ErrHubClosed
	}
	if _, taken := h.subs[phrase]; taken {
		h.mu.Unlock()
		conn.Close(ports.CloseConflict, "login phrase already has a subscriber")
		return core.ErrSubscriptionConflict
	}
	h.subs[phrase] = conn
	h.mu.Unlock()

	// Checked after registering so a verification racing with Subscribe is
	// either delivered by OnVerified or observed here.
	p, err := h.phrases.GetPhrase(ctx, phrase)
	if err == nil {
		err = p.CheckVerifiable(h.now())
	}
	if err == nil {
		h.log.Trace("Subscribed to login phrase", watermill.LogFields{"phrase": phrase})
		return nil
	}

	if !h.take(phrase, conn) {
		// resolved concurrently
		return nil
	}
	switch core.KindOf(err) {
	case core.KindPhraseNotFound:
		conn.Close(ports.CloseNotFound, "login phrase not found")
	case core.KindPhraseExpired, core.KindAlreadyVerified:
		// a used phrase can no longer produce a token for this subscriber
		conn.Deliver(ports.Result{Status: ports.ResultExpired})
		conn.Close(ports.CloseExpired, "login phrase expired")
	default:
		h.log.Error("Failed to check login phrase", err, watermill.LogFields{"phrase": phrase})
		conn.Close(ports.CloseShutdown, "internal error")
		return classify("failed to check phrase", err)
	}
	return err
}

// OnVerified delivers the bearer token to the waiting connection, if any, and closes it
func (h *NotificationHub) OnVerified(phrase, bearer string) {
	conn, ok := h.pop(phrase)
	if !ok {
		return
	}
	conn.Deliver(ports.Result{Status: ports.ResultSuccess, Token: bearer})
	conn.Close(ports.CloseNormal, "login verified")
}

// OnExpired tells the waiting connection, if any, that the phrase expired
func (h *NotificationHub) OnExpired(phrase string) {
	conn, ok := h.pop(phrase)
	if !ok {
		return
	}
	conn.Deliver(ports.Result{Status: ports.ResultExpired})
	conn.Close(ports.CloseExpired, "login phrase expired")
}

// Unsubscribe removes conn if it is still the subscriber for phrase. Idempotent.
func (h *NotificationHub) Unsubscribe(phrase string, conn ports.Conn) {
	if h.take(phrase, conn) {
		h.log.Trace("Subscriber left", watermill.LogFields{"phrase": phrase})
	}
}

// Len returns the number of waiting connections
func (h *NotificationHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown closes every waiting connection and rejects new subscriptions
func (h *NotificationHub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]ports.Conn)
	h.mu.Unlock()

	for _, conn := range subs {
		conn.Close(ports.CloseShutdown, "server shutting down")
	}
	if len(subs) > 0 {
		h.log.Info("Closed waiting subscribers", watermill.LogFields{"count": len(subs)})
	}
}

func (h *NotificationHub) pop(phrase string) (ports.Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.subs[phrase]
	if ok {
		delete(h.subs, phrase)
	}
	return conn, ok
}

func (h *NotificationHub) take(phrase string, conn ports.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.subs[phrase]; ok && current == conn {
		delete(h.subs, phrase)
		return true
	}
	return false
}
