// Package ltctlclient is a minimal synchronous client for the
// Admin/Stats Surface: dial the admin listener, send one request, read
// exactly one reply. ltctl is a one-shot CLI, not a long-lived peer, so it
// has no need of the reactor's async per-connection goroutines — a plain
// blocking round trip over net.Dial is the idiomatic shape for this kind
// of tool.
package ltctlclient

import (
	"fmt"
	"net"
	"time"

	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wire"
)

// defaultEncoderBuffer is the request encoder's auto-flush threshold (the
// reactor's encoders use 0, no auto-flush); a oneshot admin request is always small enough to fit in a single flush.
const defaultEncoderBuffer = 4096

// Call dials addr, sends req, and decodes exactly one reply of the given
// opcode into rpl. timeout bounds the whole round trip.
func Call(addr string, req proto.Message, rpl proto.Message, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	enc := wire.NewEncoder(conn, defaultEncoderBuffer)
	if err := proto.WriteMessage(enc, req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	dec := wire.NewDecoder(conn)
	op, err := proto.ReadOpcode(dec)
	if err != nil {
		return fmt.Errorf("read reply opcode: %w", err)
	}
	if op != rpl.Opcode() {
		return fmt.Errorf("unexpected reply opcode %s, want %s", op, rpl.Opcode())
	}
	if err := rpl.Decode(dec); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Send dials addr and sends req without waiting for a reply, for the
// fire-and-forget admin opcodes (info_set_verbosity, lock_rerunqueues,
// socket_close) the handler never acknowledges.
func Send(addr string, req proto.Message, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	enc := wire.NewEncoder(conn, defaultEncoderBuffer)
	if err := proto.WriteMessage(enc, req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return enc.Flush()
}
