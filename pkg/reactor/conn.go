// Package reactor manages the TCP connections a lock table node, proxy, or
// admin surface accepts or dials: accepted client/slave/core sockets, and
// outbound connect-out sockets to a peer master. A single-threaded poll(2)
// reactor would serve this role; this implementation realizes
// the same observable properties — a per-connection send queue draining at
// most one logical message per iteration for fairness, a new-connection
// timeout that reaps half-open sockets, and slave-table teardown plus
// reply-waiter re-scan on close — with one goroutine per connection and a
// bounded channel instead of a manual poll(2) loop, following the
// goroutine-per-connection style every adapter in this codebase family
// uses for network servers.
package reactor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wire"
)

// sendQueueDepth bounds the per-connection outbound queue; a slow peer
// applies backpressure to its own queue, never to other connections.
const sendQueueDepth = 256

// Handler processes one decoded message for a connection. It is invoked
// from the connection's single read goroutine, so handlers for the same
// Conn never run concurrently; handlers for different Conns do.
type Handler func(c *Conn, op proto.Opcode, dec *wire.Decoder)

// Conn is one accepted or dialed socket, framed with the wire codec.
type Conn struct {
	ID   uint64
	Role proto.Role
	Name string // client/slave/peer name, set at login

	// LockspacePrefix filters lock_cb_state/lock_cb_dropall fan-out to
	// clients that declared a lockspace mask at login (callback
	// fan-out); nil means "no filter, match everything".
	LockspacePrefix []byte

	nc      net.Conn
	dec     *wire.Decoder
	sendCh  chan proto.Message
	closeCh chan struct{}
	closed  atomic.Bool

	createdAt time.Time
	loggedIn  atomic.Bool

	// writeMu serializes every write to nc, whether from the write loop's
	// queued sends or from a direct WriteDirect call (used for the
	// lockspace transfer that must land atomically right after a login
	// reply).
	writeMu sync.Mutex
	enc     *wire.Encoder

	mu      sync.Mutex
	onClose []func(*Conn)
}

func newConn(id uint64, nc net.Conn) *Conn {
	return &Conn{
		ID:        id,
		nc:        nc,
		dec:       wire.NewDecoder(nc),
		enc:       wire.NewEncoder(nc, 0),
		sendCh:    make(chan proto.Message, sendQueueDepth),
		closeCh:   make(chan struct{}),
		createdAt: time.Now(),
	}
}

// RemoteAddr returns the peer address, or "" if unavailable.
func (c *Conn) RemoteAddr() string {
	if c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

// MarkLoggedIn records that login completed, exempting the connection from
// the new-connection timeout.
func (c *Conn) MarkLoggedIn() { c.loggedIn.Store(true) }

// Send enqueues a message for delivery, dropping it if the connection is
// already closed or its send queue is full (a saturated queue means the
// peer is not draining; the connection will be reaped by its own I/O
// errors rather than let one slow peer block the sender).
func (c *Conn) Send(m proto.Message) {
	if c.closed.Load() {
		return
	}
	select {
	case c.sendCh <- m:
	default:
		logger.Warn("send queue full, dropping message", "conn", c.ID, "opcode", m.Opcode().String())
	}
}

// OnClose registers a callback invoked exactly once when the connection
// tears down, used by the replication layer to clear a slave-table slot
// and by LTPX to mark a shard's upstream as down.
func (c *Conn) OnClose(fn func(*Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		fn(c)
		return
	}
	c.onClose = append(c.onClose, fn)
}

// Close tears the connection down idempotently.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.closeCh)
	_ = c.nc.Close()

	c.mu.Lock()
	cbs := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	for _, fn := range cbs {
		fn(c)
	}
}

// serve runs the read and write loops until either fails or ctx is done.
// It recovers from a panic in either loop so one misbehaving peer cannot
// take down the reactor.
func (c *Conn) serve(ctx context.Context, h Handler) {
	defer c.handlePanic()
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.readLoop(ctx, h)
	}()
	wg.Wait()
}

func (c *Conn) handlePanic() {
	if r := recover(); r != nil {
		logger.Error("connection handler panic", "conn", c.ID, "panic", r)
	}
}

func (c *Conn) readLoop(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		op, err := proto.ReadOpcode(c.dec)
		if err != nil {
			logger.Debug("connection read closed", "conn", c.ID, "err", err)
			return
		}
		h(c, op, c.dec)
	}
}

// writeLoop sends at most one logical message per loop iteration, flushing
// immediately rather than coalescing, preserving the fairness guarantee
// that no single connection can starve the sender of another by
// enqueueing large bursts.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case m, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.WriteDirect(func(enc *wire.Encoder) error {
				return proto.WriteMessage(enc, m)
			}); err != nil {
				logger.Debug("connection write failed", "conn", c.ID, "err", err)
				return
			}
		}
	}
}

// SendDirect writes m immediately under writeMu, bypassing the send
// queue. Used when a caller must guarantee a message lands on the wire
// before a subsequent WriteDirect call (e.g. a login reply that must
// precede a lockspace transfer on the same socket).
func (c *Conn) SendDirect(m proto.Message) error {
	return c.WriteDirect(func(enc *wire.Encoder) error {
		return proto.WriteMessage(enc, m)
	})
}

// WriteDirect runs fn against the connection's encoder under writeMu and
// flushes the result in one socket write, bypassing the send queue. Used
// by the replication layer's lockspace transfer, which must land
// immediately after the login reply rather than wait its turn in the
// queue.
func (c *Conn) WriteDirect(fn func(enc *wire.Encoder) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := fn(c.enc); err != nil {
		return err
	}
	return c.enc.Flush()
}

// Age reports how long ago the connection was accepted/dialed.
func (c *Conn) Age() time.Duration { return time.Since(c.createdAt) }

// LoggedIn reports whether MarkLoggedIn has been called.
func (c *Conn) LoggedIn() bool { return c.loggedIn.Load() }
