// Package membership is a minimal client for the external Core
// collaborator: it dials Core's membership/heartbeat service, decodes the
// three messages the lock table consumes (core_mbr_updt, core_state_chgs,
// core_mbr_lstrpl), and drives a replication.Node's role state machine and
// membership list. Core's own election/heartbeat algorithm is out of
// scope; this package only ever reacts to what Core tells it.
package membership

import (
	"context"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/replication"
	"github.com/clusterlockd/ltd/pkg/wire"
)

// Client maintains one outbound connection to Core, reconnecting forever
// on loss: the same >=1-second retry cadence applies to the Core link as
// to an outbound master login.
type Client struct {
	Addr     string
	NodeName string
	Node     *replication.Node
	Registry *reactor.Registry
	Backoff  time.Duration

	members map[uint32]string
}

// NewClient returns a Client ready to Run.
func NewClient(addr, nodeName string, node *replication.Node, registry *reactor.Registry) *Client {
	return &Client{
		Addr:     addr,
		NodeName: nodeName,
		Node:     node,
		Registry: registry,
		Backoff:  time.Second,
		members:  make(map[uint32]string),
	}
}

// Run dials Core and serves the connection until ctx is canceled,
// reconnecting on every loss.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := reactor.DialRetry(ctx, c.Registry, c.Addr, c.Backoff, c.handle)
		if err != nil {
			return // ctx canceled mid-dial
		}
		conn.Send(&proto.LoginReq{ProtoVersion: proto.ProtoVersion, Name: c.NodeName, Role: proto.RoleClient})

		<-closedSignal(conn)
		logger.Warn("lost connection to core collaborator, reconnecting", "addr", c.Addr)
		wait := c.Backoff
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func closedSignal(c *reactor.Conn) <-chan struct{} {
	ch := make(chan struct{})
	c.OnClose(func(*reactor.Conn) { close(ch) })
	return ch
}

func (c *Client) handle(conn *reactor.Conn, op proto.Opcode, dec *wire.Decoder) {
	switch op {
	case proto.OpLockLoginRpl:
		var rpl proto.LoginRpl
		if err := rpl.Decode(dec); err != nil {
			conn.Close()
			return
		}
		conn.MarkLoggedIn()

	case proto.OpCoreMbrLstRpl:
		var rpl proto.CoreMbrLstRpl
		if err := rpl.Decode(dec); err != nil {
			logger.Debug("malformed core_mbr_lstrpl", "err", err)
			return
		}
		c.members = make(map[uint32]string, len(rpl.Members))
		names := make([]string, 0, len(rpl.Members))
		for _, m := range rpl.Members {
			c.members[m.NodeID] = m.NodeName
			names = append(names, m.NodeName)
		}
		c.Node.SetMembers(names)
		logger.Info("membership list received", "generation", rpl.Generation, "count", len(names))

	case proto.OpCoreMbrUpdt:
		var updt proto.CoreMbrUpdt
		if err := updt.Decode(dec); err != nil {
			logger.Debug("malformed core_mbr_updt", "err", err)
			return
		}
		if updt.Joined {
			c.members[updt.NodeID] = updt.NodeName
		} else {
			delete(c.members, updt.NodeID)
			c.Node.NodeExpired(updt.NodeName)
		}
		names := make([]string, 0, len(c.members))
		for _, name := range c.members {
			names = append(names, name)
		}
		c.Node.SetMembers(names)

	case proto.OpCoreStateChgs:
		var chg proto.CoreStateChgs
		if err := chg.Decode(dec); err != nil {
			logger.Debug("malformed core_state_chgs", "err", err)
			return
		}
		c.Node.SetRole(chg.NewRole)

	default:
		logger.Debug("unexpected message from core collaborator", "opcode", op.String())
	}
}
