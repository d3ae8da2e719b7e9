package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/manaclock/manaclock/pkg/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	// Outbound buffer thresholds, in bytes of queued JSON. Past the warn
	// level the client is logged as slow; past the hard ceiling it is cut.
	// Bytes are the only measure: a burst of small frames must not count
	// against a frame cap.
	bufferWarnBytes  = 512 * 1024
	bufferCloseBytes = 1024 * 1024
)

// Client is one WebSocket connection. It satisfies the engine's connection
// contract: Send never blocks the caller, and a client that cannot keep up is
// dropped rather than allowed to stall a session.
type Client struct {
	id   string
	addr string
	conn *websocket.Conn
	log  slog.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	queue   [][]byte
	queued  int // bytes across queue
	wake    chan struct{}
	closed  bool
	warned  bool
	dropped int
}

func newClient(conn *websocket.Conn, addr string, log slog.Logger) *Client {
	return &Client{
		addr:    addr,
		conn:    conn,
		log:     log,
		limiter: newConnLimiter(),
		wake:    make(chan struct{}, 1),
	}
}

// ID returns the engine-assigned client id.
func (c *Client) ID() string { return c.id }

// Addr returns the source address the connection arrived from.
func (c *Client) Addr() string { return c.addr }

// Send queues one event for delivery. Returns false when the message was
// dropped: the connection is closed, or the outbound buffer blew its ceiling.
func (c *Client) Send(ev session.Event) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.log.Errorf("Failed to marshal event %s for %s: %v", ev.Type, c.id, err)
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.queued+len(raw) > bufferCloseBytes {
		c.dropped++
		c.mu.Unlock()
		c.log.Warnf("Client %s overflowed its outbound buffer, closing", c.id)
		c.Kick("slow consumer")
		return false
	}
	c.queue = append(c.queue, raw)
	c.queued += len(raw)
	if !c.warned && c.queued > bufferWarnBytes {
		c.warned = true
		c.log.Warnf("Client %s outbound buffer at %d bytes", c.id, c.queued)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Kick closes the connection with a close frame carrying reason.
func (c *Client) Kick(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.conn.Close()
}

// drain pops the queued frames for writing.
func (c *Client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	c.queued = 0
	if c.warned && len(out) == 0 {
		c.warned = false
	}
	return out
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump owns all writes to the socket: queued frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.wake:
			for _, frame := range c.drain() {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			if c.isClosed() {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
