package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/registry"
)

var errSendBufferFull = errors.New("send buffer full")

// Conn is one authenticated websocket. It implements registry.Connection.
//
// A reader goroutine handles client frames; a writer goroutine owns every
// data write and drains the send queue. Send never blocks the dispatcher.
type Conn struct {
	adapter  *Adapter
	ws       *websocket.Conn
	id       string
	identity string

	send      chan []byte
	closed    chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
}

func newConn(a *Adapter, ws *websocket.Conn, identity auth.Identity) *Conn {
	return &Conn{
		adapter:  a,
		ws:       ws,
		id:       uuid.NewString(),
		identity: identity.ID,
		send:     make(chan []byte, a.config.SendBuffer),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Identity() string { return c.identity }
func (c *Conn) Open() bool       { return !c.closing.Load() }

func (c *Conn) Send(msg []byte) error {
	if c.closing.Load() {
		return registry.ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return registry.ErrConnectionClosed
	default:
		return errSendBufferFull
	}
}

// serve runs the connection until the client leaves, a frame fails or
// shutdown starts.
func (c *Conn) serve(shutdown context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler of %s: %v", c.identity, r)
		}
		c.terminate()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(shutdown)
	}()

	c.readLoop(shutdown)
	c.terminate()
	<-writerDone
}

func (c *Conn) readLoop(ctx context.Context) {
	cfg := c.adapter.config

	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !c.closing.Load() {
				logger.Debug("Connection %s of %s ended: %v", c.id, c.identity, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if !c.adapter.limiter.Allow(c.identity) {
			logger.Debug("Rate limit exceeded for %s, dropping frame", c.identity)
			continue
		}
		c.adapter.handleClientFrame(ctx, c, data)
	}
}

func (c *Conn) writeLoop(shutdown context.Context) {
	cfg := c.adapter.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.FrameWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write to %s failed: %v", c.identity, err)
				c.terminate()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(cfg.FrameWriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.terminate()
				return
			}

		case <-shutdown.Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case <-c.closed:
			return
		}
	}
}

// closeWith sends a close frame and tears the connection down.
func (c *Conn) closeWith(code int, reason string) {
	if c.closing.Load() {
		return
	}
	deadline := time.Now().Add(c.adapter.config.FrameWriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.terminate()
}

// terminate marks the connection closed and releases the socket. Safe to
// call more than once and from any goroutine.
func (c *Conn) terminate() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.closed)
		_ = c.ws.Close()
	})
}

// refuse closes a just-upgraded connection that failed authentication.
func refuse(ws *websocket.Conn, code int, reason string, timeout time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	_ = ws.Close()
}

func decodeClientEvent(data []byte) (notify.ClientEvent, error) {
	var frame notify.ClientEvent
	if err := json.Unmarshal(data, &frame); err != nil {
		return notify.ClientEvent{}, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}
