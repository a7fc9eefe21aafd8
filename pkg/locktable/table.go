package locktable

import (
	"sync"

	"github.com/clusterlockd/ltd/pkg/proto"
)

// Sink delivers the observable effects of the queue engine: replies to the
// client that issued a waiter, drop-request callbacks to a holder, and
// replication of a granted change to slaves. The engine never touches a
// connection directly; a Table is safe to drive from one goroutine per
// lock table node regardless of how many physical connections fan into it.
type Sink interface {
	// SendReply delivers the final outcome of a waiter back to its origin.
	// The waiter itself carries the resulting state/action, flags, and any
	// attached LVB; err is the wire error code (wireerr.Ok on success).
	SendReply(w *Waiter, err uint32)
	// SendCallback asks a holder to drop to desired, identified by name
	// (not by connection) so it survives reconnects per the playback-queue
	// design.
	SendCallback(holderName string, key []byte, desired proto.LockState)
	// Replicate propagates a granted waiter to slaves and returns the
	// bitmask of slaves it was sent to (0 when there are none, or the
	// table is not Master).
	Replicate(w *Waiter) uint8
}

// NopSink discards every effect; useful for tests that only assert on
// lock/table state.
type NopSink struct{}

func (NopSink) SendReply(*Waiter, uint32)                    {}
func (NopSink) SendCallback(string, []byte, proto.LockState) {}
func (NopSink) Replicate(*Waiter) uint8                      { return 0 }

// Config bounds the lockspace's memory behavior.
type Config struct {
	// PreallocLocks seeds the free-list so that steady-state churn avoids
	// allocation; 0 disables preseeding.
	PreallocLocks int
	// HistoryDepth is the bounded per-lock history ring size; 0 disables
	// history tracking.
	HistoryDepth int
}

// Table is the in-memory lockspace: a hash table from key to *Lock, a
// free-list of recycled Lock structs, and the Sink used to deliver
// engine-driven effects.
type Table struct {
	mu       sync.Mutex
	byKey     map[string]*Lock
	freeList  []*Lock
	sink      Sink
	cfg       Config
	slaveMask uint8
}

// New returns an empty Table.
func New(cfg Config, sink Sink) *Table {
	if sink == nil {
		sink = NopSink{}
	}
	t := &Table{
		byKey: make(map[string]*Lock),
		sink:  sink,
		cfg:   cfg,
	}
	for i := 0; i < cfg.PreallocLocks; i++ {
		t.freeList = append(t.freeList, newLock(nil))
	}
	return t
}

// SetSink rebinds the table's Sink after construction. This exists for the
// replication.Node / replication.Sink wiring, where the sink needs a
// reference to the node that in turn needs the table to already exist;
// callers construct the table with a nil sink, build the node and its
// sink, then call SetSink before serving any connection.
func (t *Table) SetSink(sink Sink) {
	if sink == nil {
		sink = NopSink{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// getOrCreate returns the lock for key, creating it (from the free-list
// when possible) on first reference.
func (t *Table) getOrCreate(key []byte) *Lock {
	k := string(key)
	if l, ok := t.byKey[k]; ok {
		return l
	}
	var l *Lock
	if n := len(t.freeList); n > 0 {
		l = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		l.reset(key)
	} else {
		l = newLock(key)
	}
	if t.cfg.HistoryDepth > 0 {
		l.History = newHistory(t.cfg.HistoryDepth)
	}
	t.byKey[k] = l
	return l
}

// lookup returns the lock for key if it exists, without creating one.
func (t *Table) lookup(key []byte) (*Lock, bool) {
	l, ok := t.byKey[string(key)]
	return l, ok
}

// recycleIfIdle removes an idle lock from the hash table and returns it
// to the free-list.
func (t *Table) recycleIfIdle(l *Lock) {
	if !l.idle() {
		return
	}
	delete(t.byKey, string(l.Key))
	t.freeList = append(t.freeList, l)
}

// Stats is a point-in-time snapshot for the admin/stats surface.
type Stats struct {
	LockCountByState    [4]uint32
	PendingRequestCount uint32
	ReplyQueueDepth     uint32
	FreeLocksDepth      uint32
}

// Stats returns a snapshot of the lockspace for admin reporting.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, l := range t.byKey {
		s.LockCountByState[l.State]++
		s.PendingRequestCount += uint32(len(l.StateWaiters) + len(l.ActionWaiters) + len(l.HighWaiters) + len(l.Waiters))
		if l.ReplyWaiter != nil {
			s.ReplyQueueDepth++
		}
	}
	s.FreeLocksDepth = uint32(len(t.freeList))
	return s
}

// ForEach iterates every live lock under the table lock. fn must not
// retain the *Lock beyond the call.
func (t *Table) ForEach(fn func(*Lock)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.byKey {
		fn(l)
	}
}

// Query returns a key's current state and holder count without queuing a
// request, for lock_query_req's read-only probe.
func (t *Table) Query(key []byte) (proto.LockState, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.lookup(key)
	if !ok {
		return proto.StateUnlock, 0
	}
	return l.State, len(l.Holders)
}

