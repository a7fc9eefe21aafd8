package replication

import (
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/wire"
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

// NewHandler returns a reactor.Handler that dispatches every opcode a lock
// table node's client/slave listener can receive to Node's locktable and
// replication logic. sink is the same Sink passed to locktable.New so the
// handler can drain a client's queued callbacks on login.
func NewHandler(n *Node, sink *Sink) reactor.Handler {
	return func(c *reactor.Conn, op proto.Opcode, dec *wire.Decoder) {
		switch op {
		case proto.OpLockLoginReq:
			n.handleLogin(c, sink, dec)

		case proto.OpLockStateReq:
			n.handleStateReq(c, dec)

		case proto.OpLockActionReq:
			n.handleActionReq(c, dec)

		case proto.OpLockUpdateRpl:
			n.handleUpdateRpl(c, dec)

		case proto.OpLockStateUpdt:
			n.handleStateUpdt(c, dec)

		case proto.OpLockActionUpdt:
			n.handleActionUpdt(c, dec)

		case proto.OpLockDropExp:
			n.handleDropExp(dec)

		case proto.OpLockQueryReq:
			n.handleQueryReq(c, dec)

		case proto.OpSocketClose:
			c.Close()

		default:
			logger.Debug("unhandled opcode", "conn", c.ID, "opcode", op.String())
		}
	}
}

func (n *Node) handleStateReq(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.StateReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed state req", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	if !n.AcceptsClientLogins() {
		c.Send(&proto.StateRpl{Key: req.Key, SubID: req.SubID, State: req.State, Flags: req.Flags, Err: uint32(wireerr.NoService)})
		return
	}
	n.Table.SubmitState(&locktable.Waiter{
		Kind: locktable.KindState, Name: c.Name, SubID: req.SubID,
		Key: req.Key, State: req.State, Flags: req.Flags,
		Start: req.Start, Stop: req.Stop, LVB: req.LVB,
		ReplyConnID: c.ID, EnqueuedAt: time.Now(),
	})
}

func (n *Node) handleActionReq(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.ActionReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed action req", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	if !n.AcceptsClientLogins() {
		c.Send(&proto.ActionRpl{Key: req.Key, SubID: req.SubID, Action: req.Action, Flags: req.Flags, Err: uint32(wireerr.NoService)})
		return
	}
	n.Table.SubmitAction(&locktable.Waiter{
		Kind: locktable.KindAction, Name: c.Name, SubID: req.SubID,
		Key: req.Key, Action: req.Action, Flags: req.Flags,
		Start: req.Start, Stop: req.Stop, LVB: req.LVB,
		ReplyConnID: c.ID, EnqueuedAt: time.Now(),
	})
}

// handleUpdateRpl processes a slave's ack of a replicated update.
func (n *Node) handleUpdateRpl(c *reactor.Conn, dec *wire.Decoder) {
	var rpl proto.UpdateRpl
	if err := rpl.Decode(dec); err != nil {
		logger.Debug("malformed update rpl", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	n.mu.RLock()
	bit := n.slaves.BitOf(c.Name)
	n.mu.RUnlock()
	if bit == 0 {
		return
	}
	n.Table.AckSlave(rpl.Key, bit)
}

// handleStateUpdt is the slave side of replication: force-apply the
// master's decision and ack with only the key.
func (n *Node) handleStateUpdt(c *reactor.Conn, dec *wire.Decoder) {
	var updt proto.StateUpdt
	if err := updt.Decode(dec); err != nil {
		logger.Debug("malformed state updt", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	n.Table.ForceState(updt.Key, updt.SubID, updt.Start, updt.Stop, updt.State, updt.Flags, updt.Name, updt.LVB)
	c.Send(&proto.UpdateRpl{Key: updt.Key})
}

func (n *Node) handleActionUpdt(c *reactor.Conn, dec *wire.Decoder) {
	var updt proto.ActionUpdt
	if err := updt.Decode(dec); err != nil {
		logger.Debug("malformed action updt", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	n.Table.ForceAction(updt.Key, updt.SubID, updt.Action, updt.Name, updt.LVB)
	c.Send(&proto.UpdateRpl{Key: updt.Key})
}

func (n *Node) handleDropExp(dec *wire.Decoder) {
	var req proto.DropExp
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed drop_exp", "err", err)
		return
	}
	n.Table.DropExpired(req.Name)
}

func (n *Node) handleQueryReq(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.QueryReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed query req", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	state, holders := n.Table.Query(req.Key)
	c.Send(&proto.QueryRpl{Key: req.Key, State: state, HolderCount: uint32(holders), Err: uint32(wireerr.Ok)})
}
