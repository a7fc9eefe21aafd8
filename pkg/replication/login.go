package replication

import (
	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/wire"
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

// handleLogin processes lock_login_req from clients, LTPX, and slaves. A
// version mismatch is rejected with BadWireProto, and any other claimed
// role with BadLogin.
func (n *Node) handleLogin(c *reactor.Conn, sink *Sink, dec *wire.Decoder) {
	var req proto.LoginReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed login", "conn", c.ID, "err", err)
		c.Close()
		return
	}

	if req.ProtoVersion != proto.ProtoVersion {
		c.Send(&proto.LoginRpl{Err: uint32(wireerr.BadWireProto), Role: n.Role()})
		c.Close()
		return
	}

	switch req.Role {
	case proto.RoleSlave:
		n.handleSlaveLogin(c, req.Name)
	case proto.RoleClient, proto.RoleLTPX:
		// LTPX logs in as an ordinary client from the master's point of
		// view: it just demultiplexes a flat key space, so it gets
		// no special privilege beyond AcceptsClientLogins.
		n.handleClientLogin(c, sink, req.Name, req.LockspacePrefix)
	default:
		c.Send(&proto.LoginRpl{Err: uint32(wireerr.BadLogin), Role: n.Role()})
		c.Close()
	}
}

func (n *Node) handleSlaveLogin(c *reactor.Conn, name string) {
	if !n.AcceptsSlaveLogins() {
		c.Send(&proto.LoginRpl{Err: uint32(wireerr.NoService), Role: n.Role()})
		c.Close()
		return
	}

	bit, code := n.attachSlave(name, c.ID)
	if code != wireerr.Ok {
		c.Send(&proto.LoginRpl{Err: uint32(code), Role: n.Role()})
		c.Close()
		return
	}

	c.Role = proto.RoleSlave
	n.Registry.BindName(c, name)
	c.MarkLoggedIn()
	c.OnClose(func(*reactor.Conn) { n.detachSlave(c.ID) })

	// The slave is already attached and bound by name at this point. The
	// login reply and the lockspace snapshot both go out via
	// SendDirect/WriteDirect (bypassing the queued sendCh), in that order.
	if err := c.SendDirect(&proto.LoginRpl{Err: uint32(wireerr.Ok), Role: n.Role()}); err != nil {
		logger.Warn("slave login reply failed", "slave", name, "err", err)
		c.Close()
		return
	}
	if err := c.WriteDirect(n.Table.DumpSnapshot); err != nil {
		logger.Warn("lockspace transfer failed", "slave", name, "err", err)
		c.Close()
		return
	}
	_ = bit
	logger.Info("slave attached", "name", name, "conn", c.ID)
}

func (n *Node) handleClientLogin(c *reactor.Conn, sink *Sink, name string, lockspacePrefix []byte) {
	if !n.AcceptsClientLogins() {
		c.Send(&proto.LoginRpl{Err: uint32(wireerr.NoService), Role: n.Role()})
		c.Close()
		return
	}
	c.Role = proto.RoleClient
	c.LockspacePrefix = lockspacePrefix
	n.Registry.BindName(c, name)
	c.MarkLoggedIn()
	c.Send(&proto.LoginRpl{Err: uint32(wireerr.Ok), Role: n.Role()})
	sink.DrainPlayback(name, c)
}
