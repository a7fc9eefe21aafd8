package reactor

import (
	"context"
	"net"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
)

// Server accepts connections on a single listener, handing each to a
// Registry and a Handler. SO_REUSEADDR and TCP_NODELAY are set;
// listeners are dual-stack (Go's "tcp" network already prefers IPv6 with
// IPv4 fallback on most platforms).
type Server struct {
	Addr           string
	Registry       *Registry
	Handler        Handler
	NewConnTimeout time.Duration

	listener net.Listener
}

// ListenAndServe binds Addr and accepts connections until ctx is canceled.
// It blocks; callers run it in its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("accept failed", "addr", s.Addr, "err", err)
				return err
			}
		}
		if tc, ok := nc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		c := newConn(s.Registry.newID(), nc)
		s.Registry.add(c)
		logger.Debug("accepted connection", "conn", c.ID, "addr", c.RemoteAddr())

		if s.NewConnTimeout > 0 {
			go s.reapIfNotLoggedIn(c)
		}
		go c.serve(ctx, s.Handler)
	}
}

// reapIfNotLoggedIn closes an accepted connection that never completes
// login within NewConnTimeout.
func (s *Server) reapIfNotLoggedIn(c *Conn) {
	t := time.NewTimer(s.NewConnTimeout)
	defer t.Stop()
	select {
	case <-t.C:
		if !c.LoggedIn() {
			logger.Warn("new-connection timeout, closing half-open socket", "conn", c.ID)
			c.Close()
		}
	case <-c.closeCh:
	}
}

// Dial connects out to addr (a peer master, or the Core collaborator),
// registers the resulting Conn, and starts serving it. No new-connection
// timeout applies to a dialed connection; the caller calls MarkLoggedIn
// once the login-reply arrives.
func Dial(ctx context.Context, registry *Registry, addr string, h Handler) (*Conn, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c := newConn(registry.newID(), nc)
	registry.add(c)
	go c.serve(ctx, h)
	return c, nil
}

// DialRetry dials addr in a loop with the given backoff until it succeeds
// or ctx is canceled. An outbound master login retries forever at a
// >=1-second cadence.
func DialRetry(ctx context.Context, registry *Registry, addr string, backoff time.Duration, h Handler) (*Conn, error) {
	if backoff < time.Second {
		backoff = time.Second
	}
	for {
		c, err := Dial(ctx, registry, addr, h)
		if err == nil {
			return c, nil
		}
		logger.Debug("dial failed, retrying", "addr", addr, "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
