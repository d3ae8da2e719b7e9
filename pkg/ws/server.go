// Package ws is the WebSocket transport: it upgrades connections, enforces
// rate limits and feeds decoded commands to the engine. All game semantics
// live behind the engine; this package only moves frames.
package ws

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/manaclock/manaclock/pkg/server"
	"github.com/manaclock/manaclock/pkg/session"
)

// Transport accepts WebSocket connections for one engine.
type Transport struct {
	engine *server.Server
	log    slog.Logger

	allowedOrigins []string
	limits         *limiterTable

	upgrader websocket.Upgrader
	quit     chan struct{}
}

// Config tunes a Transport.
type Config struct {
	Engine *server.Server
	Log    slog.Logger

	// AllowedOrigins whitelists browser origins by host. Empty allows
	// same-host requests only.
	AllowedOrigins []string
}

// New creates the transport and starts the limiter sweep.
func New(cfg Config) *Transport {
	t := &Transport{
		engine:         cfg.Engine,
		log:            cfg.Log,
		allowedOrigins: cfg.AllowedOrigins,
		limits:         newLimiterTable(nil),
		quit:           make(chan struct{}),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	go t.sweepLoop()
	return t
}

// Stop halts the limiter sweep. Open connections are closed by the engine's
// drain sequence.
func (t *Transport) Stop() { close(t.quit) }

func (t *Transport) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-ticker.C:
			t.limits.sweep()
		}
	}
}

// checkOrigin admits non-browser clients (no Origin header), same-host
// requests and whitelisted origins.
func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(origin, "://"); i >= 0 {
		host = origin[i+3:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	reqHost := r.Host
	if h, _, err := net.SplitHostPort(reqHost); err == nil {
		reqHost = h
	}
	if strings.EqualFold(host, reqHost) {
		return true
	}
	for _, allowed := range t.allowedOrigins {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

// clientIP strips the port; connection and message budgets are per address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.engine.Draining() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ip := clientIP(r)
	if !t.limits.AllowConn(ip) {
		t.log.Debugf("Connection limit exceeded for %s", ip)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debugf("Upgrade from %s failed: %v", ip, err)
		return
	}

	client := newClient(conn, ip, t.log)
	clientID, err := t.engine.HandleClientConnect(client)
	if err != nil {
		client.Kick(err.Error())
		return
	}
	client.id = clientID

	go client.writePump()
	t.readPump(client, ip)
}

// readPump decodes inbound frames until the connection dies, then reports the
// disconnect to the engine.
func (t *Transport) readPump(client *Client, ip string) {
	defer func() {
		t.engine.HandleClientDisconnect(client.id)
		client.Kick("closing")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Debugf("Client %s read error: %v", client.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !client.limiter.Allow() || !t.limits.AllowMessage(ip) {
			client.Send(session.Event{
				Type: server.EventError,
				Data: server.ErrorPayload{Message: server.ErrRateLimited.Error()},
			})
			continue
		}
		t.engine.HandleCommand(client.id, raw)
	}
}
