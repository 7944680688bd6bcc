// Package protocoltest provides an in-memory protocol.Dialer for tests.
package protocoltest

import (
	"context"
	"sync"

	"github.com/aetherflow/sessionpool/internal/protocol"
)

// FakeConn is a scripted protocol.Conn. Tests push inbound events with
// Ready, Chat and Disconnect and read back outbound lines with Sent.
type FakeConn struct {
	Options protocol.DialOptions

	mu      sync.Mutex
	events  chan protocol.Event
	sent    []string
	sendErr error
	closed  bool
	ended   bool
}

// NewFakeConn creates a connection with a buffered event channel
func NewFakeConn(opts protocol.DialOptions) *FakeConn {
	return &FakeConn{
		Options: opts,
		events:  make(chan protocol.Event, 64),
	}
}

// Events implements protocol.Conn
func (c *FakeConn) Events() <-chan protocol.Event {
	return c.events
}

// Send implements protocol.Conn
func (c *FakeConn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.ended {
		return protocol.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

// Close implements protocol.Conn
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if !c.ended {
		c.ended = true
		close(c.events)
	}
	return nil
}

// Emit delivers ev. Events after the connection ended are dropped.
func (c *FakeConn) Emit(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return
	}
	c.events <- ev
	if ev.Type == protocol.EventDisconnected {
		c.ended = true
		close(c.events)
	}
}

// Ready emits EventReady
func (c *FakeConn) Ready() {
	c.Emit(protocol.Event{Type: protocol.EventReady})
}

// Chat emits one chat line
func (c *FakeConn) Chat(text string) {
	c.Emit(protocol.Event{Type: protocol.EventChat, Text: text})
}

// Disconnect emits EventDisconnected with reason
func (c *FakeConn) Disconnect(reason string) {
	c.Emit(protocol.Event{Type: protocol.EventDisconnected, Reason: reason})
}

// SetSendErr makes subsequent sends fail with err
func (c *FakeConn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Sent returns the lines sent so far
func (c *FakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Closed reports whether Close was called
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeDialer hands out FakeConns
type FakeDialer struct {
	// AutoReady emits EventReady on every new connection
	AutoReady bool
	// OnDial runs after a connection is created, before Dial returns
	OnDial func(conn *FakeConn)

	mu    sync.Mutex
	err   error
	conns []*FakeConn
}

// NewFakeDialer creates a dialer whose connections become ready at once
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{AutoReady: true}
}

// Dial implements protocol.Dialer
func (d *FakeDialer) Dial(ctx context.Context, opts protocol.DialOptions) (protocol.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	conn := NewFakeConn(opts)
	d.conns = append(d.conns, conn)
	autoReady, onDial := d.AutoReady, d.OnDial
	d.mu.Unlock()

	if onDial != nil {
		onDial(conn)
	}
	if autoReady {
		conn.Ready()
	}
	return conn, nil
}

// SetError makes subsequent dials fail with err; nil restores them
func (d *FakeDialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// SetAutoReady toggles AutoReady
func (d *FakeDialer) SetAutoReady(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AutoReady = v
}

// Conns returns every connection handed out, oldest first
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns...)
}

// Dials returns the number of successful dials
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent connection, or nil
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// ForUser returns the most recent connection dialed for username
func (d *FakeDialer) ForUser(username string) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i].Options.Username == username {
			return d.conns[i]
		}
	}
	return nil
}

var _ protocol.Dialer = (*FakeDialer)(nil)
var _ protocol.Conn = (*FakeConn)(nil)
