package supervisortest

import (
	"sync"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

// FakeDialer records every dial and hands out FakeConns.
type FakeDialer struct {
	mu    sync.Mutex
	conns []*FakeConn
	err   error
}

func (d *FakeDialer) Dial(cfg domain.ConnectionConfig, h ports.ConnHandler) (ports.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &FakeConn{Config: cfg, h: h}
	d.conns = append(d.conns, c)
	return c, nil
}

// SetErr makes subsequent dials fail with err. Pass nil to restore.
func (d *FakeDialer) SetErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Count returns the number of successful dials.
func (d *FakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Live returns the number of connections neither terminated nor ended.
func (d *FakeDialer) Live() int {
	d.mu.Lock()
	conns := append([]*FakeConn(nil), d.conns...)
	d.mu.Unlock()
	n := 0
	for _, c := range conns {
		if c.Alive() {
			n++
		}
	}
	return n
}

// FakeConn is a scripted connection. Events are delivered synchronously on
// the calling goroutine.
type FakeConn struct {
	Config domain.ConnectionConfig
	h      ports.ConnHandler

	mu         sync.Mutex
	sent       []string
	terminated bool
	ended      bool
	sendErr    error
}

func (c *FakeConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *FakeConn) Terminate() error {
	c.mu.Lock()
	c.terminated = true
	c.mu.Unlock()
	return nil
}

// FailSends makes SendText return err.
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *FakeConn) Ready()         { c.h.OnReady() }
func (c *FakeConn) Fail(err error) { c.h.OnError(err) }

func (c *FakeConn) Close() {
	c.markEnded()
	c.h.OnClosed()
}

func (c *FakeConn) Kick(reason string) {
	c.markEnded()
	c.h.OnKicked(reason)
}

func (c *FakeConn) markEnded() {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
}

// Sent returns a copy of every text written.
func (c *FakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *FakeConn) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *FakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.terminated && !c.ended
}
