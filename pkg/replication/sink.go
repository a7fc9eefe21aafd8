package replication

import (
	"sync"

	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
)

// Sink adapts a Node to locktable.Sink: it turns queue-engine grants into
// replicated updates sent to every live slave and client replies/callbacks
// sent over the reactor. Waiter.ReplyConnID carries the reactor Conn.ID
// the request arrived on; this is a pure
// lookup-hint, so a reply or callback silently no-ops if the connection
// has since gone away rather than ever touching stale state.
type Sink struct {
	node *Node

	mu       sync.Mutex
	playback map[string][]*proto.CbState // drop-requests queued for a disconnected client
}

// NewSink returns a Sink bound to node. Call Table.New with this as the
// Sink argument to wire the queue engine's effects to the wire.
func NewSink(node *Node) *Sink {
	return &Sink{node: node, playback: make(map[string][]*proto.CbState)}
}

func (s *Sink) SendReply(w *locktable.Waiter, err uint32) {
	c, ok := s.node.Registry.ByID(w.ReplyConnID)
	if !ok {
		return
	}
	if w.Kind == locktable.KindState {
		c.Send(&proto.StateRpl{
			Key: w.Key, SubID: w.SubID, Start: w.Start, Stop: w.Stop,
			State: w.State, Flags: w.Flags, Err: err, LVB: w.LVB,
		})
		return
	}
	c.Send(&proto.ActionRpl{
		Key: w.Key, SubID: w.SubID, Start: w.Start, Stop: w.Stop,
		Action: w.Action, Flags: w.Flags, Err: err, LVB: w.LVB,
	})
}

// SendCallback delivers (or queues, if the holder is currently
// disconnected) a drop-request identified by client name: callback
// targets are identified by name, not socket, so a client that reconnects
// still receives queued drop-requests for its held locks).
func (s *Sink) SendCallback(holderName string, key []byte, desired proto.LockState) {
	cb := &proto.CbState{Key: key, DesiredState: desired}

	c, ok := s.node.Registry.ByName(holderName)
	if !ok {
		s.mu.Lock()
		s.playback[holderName] = append(s.playback[holderName], cb)
		s.mu.Unlock()
		return
	}
	c.Send(cb)
}

// DrainPlayback is called once a client's login completes, flushing any
// drop-requests queued while it was disconnected into its fresh send
// queue.
func (s *Sink) DrainPlayback(name string, c *reactor.Conn) {
	s.mu.Lock()
	queued := s.playback[name]
	delete(s.playback, name)
	s.mu.Unlock()

	for _, cb := range queued {
		c.Send(cb)
	}
}

// Replicate sends w to every live slave, returning the bitmask of slaves
// it was sent to. It is a no-op (returning 0) unless the node is currently
// Master or Arbitrating — a Slave never originates replication.
func (s *Sink) Replicate(w *locktable.Waiter) uint8 {
	if !s.node.AcceptsClientLogins() {
		return 0
	}

	s.node.mu.RLock()
	slots := s.node.slaves.slots
	s.node.mu.RUnlock()

	var sent uint8
	for i, slot := range slots {
		if !slot.Live {
			continue
		}
		c, ok := s.node.Registry.ByName(slot.Name)
		if !ok {
			continue
		}
		bit := uint8(1 << uint(i))
		if w.Kind == locktable.KindState {
			c.Send(&proto.StateUpdt{
				Key: w.Key, SubID: w.SubID, Start: w.Start, Stop: w.Stop,
				State: w.State, Flags: w.Flags, LVB: w.LVB, Name: w.Name,
			})
		} else {
			c.Send(&proto.ActionUpdt{
				Key: w.Key, SubID: w.SubID, Start: w.Start, Stop: w.Stop,
				Action: w.Action, Flags: w.Flags, LVB: w.LVB, Name: w.Name,
			})
		}
		sent |= bit
	}
	return sent
}
