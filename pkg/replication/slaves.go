package replication

import (
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

// SlaveSlot is one of the 4 fixed slave-table entries: {name, live,
// poller-idx}. PollerIdx is the reactor Conn.ID the slot's socket
// is currently served by; it is a lookup hint only, never
// load-bearing for correctness.
type SlaveSlot struct {
	Name      string
	Live      bool
	PollerIdx uint64
}

// SlaveTable is the master's fixed-capacity slave bookkeeping: 4 slots
// plus the derived Slave_bitmask used for O(1) acknowledgement-quorum
// checks.
type SlaveTable struct {
	slots  [maxSlaves]SlaveSlot
	bitmask uint8
}

// Bitmask returns the current Slave_bitmask of live slots.
func (t *SlaveTable) Bitmask() uint8 { return t.bitmask }

// Attach adds name to the first free slot, returning its bit and true, or
// false if all 4 slots are occupied.
func (t *SlaveTable) Attach(name string, pollerIdx uint64) (bit uint8, ok bool) {
	for i := range t.slots {
		if !t.slots[i].Live {
			t.slots[i] = SlaveSlot{Name: name, Live: true, PollerIdx: pollerIdx}
			bit = 1 << uint(i)
			t.bitmask |= bit
			return bit, true
		}
	}
	return 0, false
}

// Detach clears the slot holding name (by poller idx, since a reconnect
// under the same name races with the close callback of the old socket)
// and returns its bit, or 0 if not found.
func (t *SlaveTable) Detach(pollerIdx uint64) (bit uint8) {
	for i := range t.slots {
		if t.slots[i].Live && t.slots[i].PollerIdx == pollerIdx {
			bit = 1 << uint(i)
			t.slots[i] = SlaveSlot{}
			t.bitmask &^= bit
			return bit
		}
	}
	return 0
}

// BitOf returns the bit assigned to name's live slot, or 0 if not attached.
func (t *SlaveTable) BitOf(name string) uint8 {
	for i := range t.slots {
		if t.slots[i].Live && t.slots[i].Name == name {
			return 1 << uint(i)
		}
	}
	return 0
}

// List returns a snapshot of the live slots for the admin info_slave_list
// surface.
func (t *SlaveTable) List() []SlaveSlot {
	out := make([]SlaveSlot, 0, maxSlaves)
	for _, s := range t.slots {
		if s.Live {
			out = append(out, s)
		}
	}
	return out
}

// attachSlave is the locked entry point used by the login handler's slave
// attach: validates membership, adds to the table, updates the node's and
// table engine's slave mask, and reports the assigned bit.
func (n *Node) attachSlave(name string, pollerIdx uint64) (bit uint8, code wireerr.Code) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, isMember := n.members[name]; !isMember && len(n.members) > 0 {
		return 0, wireerr.NotAllowed
	}
	bit, ok := n.slaves.Attach(name, pollerIdx)
	if !ok {
		return 0, wireerr.NoService
	}
	n.Table.OnSlaveJoin(bit)
	return bit, wireerr.Ok
}

// detachSlave is invoked from a slave connection's OnClose callback.
func (n *Node) detachSlave(pollerIdx uint64) {
	n.mu.Lock()
	bit := n.slaves.Detach(pollerIdx)
	n.mu.Unlock()

	if bit != 0 {
		n.Table.OnSlaveLeave(bit)
	}
}

// SlaveList returns a snapshot of the live slave table for admin reporting.
func (n *Node) SlaveList() []SlaveSlot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.slaves.List()
}
