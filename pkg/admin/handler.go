// Package admin implements the Admin/Stats Surface: a lock table
// node's read-only and operational control-plane opcodes, served over the
// same framed wire codec as client/slave traffic but on a dedicated
// listener so a stuck client connection can never starve operator access.
package admin

import (
	"os"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/replication"
	"github.com/clusterlockd/ltd/pkg/wire"
)

// Handler serves the admin opcodes against one node's lock table and
// replication state.
type Handler struct {
	Table     *locktable.Table
	Node      *replication.Node
	StartedAt time.Time
}

// New returns a Handler bound to table/node, with StartedAt set to now for
// uptime reporting.
func New(table *locktable.Table, node *replication.Node) *Handler {
	return &Handler{Table: table, Node: node, StartedAt: time.Now()}
}

// Serve returns a reactor.Handler dispatching every admin opcode.
func (h *Handler) Serve() reactor.Handler {
	return func(c *reactor.Conn, op proto.Opcode, dec *wire.Decoder) {
		switch op {
		case proto.OpInfoStatsReq:
			var req proto.InfoStatsReq
			_ = req.Decode(dec)
			c.Send(h.stats())

		case proto.OpInfoSlaveListReq:
			var req proto.InfoSlaveListReq
			_ = req.Decode(dec)
			c.Send(h.slaveList())

		case proto.OpInfoSetVerbosity:
			var req proto.InfoSetVerbosity
			if err := req.Decode(dec); err != nil {
				c.Close()
				return
			}
			logger.SetLevel(req.Level)
			logger.Info("verbosity changed via admin surface", "level", req.Level)

		case proto.OpLockDumpReq:
			var req proto.LockDumpReq
			if err := req.Decode(dec); err != nil {
				c.Close()
				return
			}
			c.Send(h.dump(req.Path))

		case proto.OpLockRerunQueues:
			var req proto.LockRerunQueues
			_ = req.Decode(dec)
			h.Table.RerunQueues()
			logger.Info("queues rerun via admin surface")

		case proto.OpSocketClose:
			c.Close()

		default:
			logger.Debug("unhandled admin opcode", "conn", c.ID, "opcode", op.String())
		}
	}
}

func (h *Handler) stats() *proto.InfoStatsRpl {
	s := h.Table.Stats()
	return &proto.InfoStatsRpl{
		LockCountByState:    s.LockCountByState,
		PendingRequestCount: s.PendingRequestCount,
		ReplyQueueDepth:     s.ReplyQueueDepth,
		FreeLocksDepth:      s.FreeLocksDepth,
		Pid:                 uint32(os.Getpid()),
		UptimeSeconds:       uint64(time.Since(h.StartedAt).Seconds()),
		Role:                h.Node.Role(),
	}
}

func (h *Handler) slaveList() *proto.InfoSlaveListRpl {
	slaves := h.Node.SlaveList()
	out := make([]proto.SlaveInfo, 0, len(slaves))
	for _, s := range slaves {
		out = append(out, proto.SlaveInfo{Name: s.Name, Live: s.Live})
	}
	return &proto.InfoSlaveListRpl{Slaves: out}
}
