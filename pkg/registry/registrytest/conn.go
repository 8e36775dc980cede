// Package registrytest provides an in-memory registry.Connection for tests.
package registrytest

import (
	"sync"

	"github.com/marmos91/dittoshare/pkg/registry"
)

// Conn records every message sent to it until closed.
type Conn struct {
	id       string
	identity string

	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

// NewConn returns an open connection with the given handle and owner.
func NewConn(id, identity string) *Conn {
	return &Conn{id: id, identity: identity}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Identity() string { return c.identity }

func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return registry.ErrConnectionClosed
	}
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

// Close makes the connection refuse further messages.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Sent returns a copy of the messages received so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}
