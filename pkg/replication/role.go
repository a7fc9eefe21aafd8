// Package replication implements the Master/Slave Replication Protocol:
// the Pending/Master/Arbitrating/Slave role state machine driven by
// membership events from the external Core collaborator, the 4-slot slave
// table and its Slave_bitmask, per-request replication bookkeeping wired
// into locktable.Table's reply-waiter slot via the locktable.Sink
// interface, and lockspace transfer on slave attach.
package replication

import (
	"sync"
	"sync/atomic"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
)

// maxSlaves is frozen at 4 by the single-byte Slave_bitmask; raising it
// requires widening SlaveTable's bitmask type.
const maxSlaves = 4

// Node owns one lock table's replication state: its current role, the
// live slave table, and the membership list used to admit slave logins.
// It implements locktable.Sink, turning queue-engine grants into
// replicated lock_state_updt/lock_action_updt sends and client replies.
type Node struct {
	ClusterID string
	NodeName  string

	Table    *locktable.Table
	Registry *reactor.Registry

	role atomic.Int32

	mu      sync.RWMutex
	slaves  SlaveTable
	members map[string]struct{} // membership list admitted as slave peers
}

// NewNode constructs a Node in RolePending; it becomes Master or Slave only
// on a membership event from the Core collaborator.
func NewNode(clusterID, nodeName string, table *locktable.Table, registry *reactor.Registry) *Node {
	n := &Node{
		ClusterID: clusterID,
		NodeName:  nodeName,
		Table:     table,
		Registry:  registry,
		members:   make(map[string]struct{}),
	}
	n.role.Store(int32(proto.RolePending))
	return n
}

// Role returns the node's current role.
func (n *Node) Role() proto.Role { return proto.Role(n.role.Load()) }

// SetRole transitions the node to a new role in response to a Core
// membership event. Arbitrating is
// treated identically to Master for the purpose of accepting client and
// slave logins.
func (n *Node) SetRole(r proto.Role) {
	old := proto.Role(n.role.Swap(int32(r)))
	if old != r {
		logger.Info("role transition", "cluster", n.ClusterID, "node", n.NodeName, "from", old.String(), "to", r.String())
	}
}

// AcceptsClientLogins reports whether the node is in a role that serves
// client lock requests (Master or Arbitrating).
func (n *Node) AcceptsClientLogins() bool {
	r := n.Role()
	return r == proto.RoleMaster || r == proto.RoleArbitrating
}

// AcceptsSlaveLogins mirrors AcceptsClientLogins: only a node acting as
// master (or arbitrating) accepts slave attaches.
func (n *Node) AcceptsSlaveLogins() bool { return n.AcceptsClientLogins() }

// SetMembers replaces the membership list used to admit slave logins,
// from a core_mbr_lstrpl/core_mbr_updt stream.
func (n *Node) SetMembers(names []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.members = make(map[string]struct{}, len(names))
	for _, name := range names {
		n.members[name] = struct{}{}
	}
}

// IsMember reports whether name is an admitted cluster member.
func (n *Node) IsMember(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.members[name]
	return ok
}

// NodeExpired applies the expiry procedure to the lockspace and, if this
// node is Master or Arbitrating, forwards the expiry to every slave.
func (n *Node) NodeExpired(name string) {
	n.Table.NodeExpired(name)
	if n.Role() != proto.RoleMaster && n.Role() != proto.RoleArbitrating {
		return
	}
	n.Registry.Each(proto.RoleSlave, func(c *reactor.Conn) {
		c.Send(&proto.DropExp{Name: name})
	})
}
