package http

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"
	"github.com/layer-3/zelid/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type closeFrame struct {
	code   int
	reason string
}

// wsConn is the per-connection task behind a phrase subscription.
// The handler goroutine runs writePump; readPump only detects disconnects.
type wsConn struct {
	conn *websocket.Conn
	log  watermill.LoggerAdapter

	send     chan ports.Result
	stop     chan struct{}
	readDone chan struct{}

	once  sync.Once
	frame closeFrame
}

func newWSConn(conn *websocket.Conn, logger watermill.LoggerAdapter) *wsConn {
	return &wsConn{
		conn:     conn,
		log:      logger,
		send:     make(chan ports.Result, 1),
		stop:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Deliver queues the result; only the first result per connection is kept
func (c *wsConn) Deliver(result ports.Result) {
	select {
	case c.send <- result:
	default:
	}
}

// Close asks the write pump to send a close frame and exit
func (c *wsConn) Close(code int, reason string) {
	c.once.Do(func() {
		c.frame = closeFrame{code: code, reason: reason}
		close(c.stop)
	})
}

// readPump discards client messages and returns when the peer goes away
func (c *wsConn) readPump() {
	defer close(c.readDone)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read error", watermill.LogFields{"err": err.Error()})
			}
			return
		}
	}
}

// writePump exits when the hub closes the connection or the peer disconnects
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case result := <-c.send:
			if err := c.write(result); err != nil {
				return
			}
		case <-c.stop:
			select {
			case result := <-c.send:
				if err := c.write(result); err != nil {
					return
				}
			default:
			}
			msg := websocket.FormatCloseMessage(c.frame.code, c.frame.reason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ws close message", watermill.LogFields{"err": err.Error()})
			}
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(result ports.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
