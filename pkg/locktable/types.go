// Package locktable implements the in-memory keyed lock store: lock
// structs with holder/expired/LVB-holder lists, the four-queue waiter
// engine, and lockspace recycling.
package locktable

import (
	"time"

	"github.com/clusterlockd/ltd/pkg/proto"
)

// Holder is a client holding (or having held) some state against a lock.
type Holder struct {
	Name   string
	SubID  uint64
	Start  uint64
	Stop   uint64
	State  proto.LockState
	ConnID uint64
}

// WaiterKind distinguishes the two incoming queues a waiter started life
// on; conflict queues hold a mix of both kinds.
type WaiterKind uint8

const (
	KindState WaiterKind = iota
	KindAction
)

// Waiter is a queued lock request (`lkrq`).
type Waiter struct {
	Kind  WaiterKind
	Name  string
	SubID uint64
	Key   []byte
	State proto.LockState
	Action proto.ActionCode
	Flags proto.Flags
	Start uint64
	Stop  uint64
	LVB   []byte

	SlaveSent uint8
	SlaveRpls uint8

	ReplyConnID uint64
	EnqueuedAt  time.Time
}

func (w *Waiter) hasFlag(f proto.Flags) bool { return w.Flags.Has(f) }

// Lock is the per-key state: current compatibility state, LVB, the three
// holder lists, the four waiter queues, and the single reply-waiter slot.
type Lock struct {
	Key   []byte
	State proto.LockState
	LVB   []byte

	Holders        []*Holder
	ExpiredHolders []*Holder
	LVBHolders     []*Holder

	StateWaiters  []*Waiter
	ActionWaiters []*Waiter
	HighWaiters   []*Waiter
	Waiters       []*Waiter

	ReplyWaiter *Waiter

	History *history

	// pendingState tracks clients with an outstanding state request
	// against this lock, enforcing the at-most-one-per-client invariant.
	pendingState map[string]struct{}
}

func newLock(key []byte) *Lock {
	return &Lock{
		Key:          append([]byte(nil), key...),
		State:        proto.StateUnlock,
		pendingState: make(map[string]struct{}),
	}
}

func (l *Lock) reset(key []byte) {
	l.Key = append(l.Key[:0], key...)
	l.State = proto.StateUnlock
	l.LVB = nil
	l.Holders = l.Holders[:0]
	l.ExpiredHolders = l.ExpiredHolders[:0]
	l.LVBHolders = l.LVBHolders[:0]
	l.StateWaiters = l.StateWaiters[:0]
	l.ActionWaiters = l.ActionWaiters[:0]
	l.HighWaiters = l.HighWaiters[:0]
	l.Waiters = l.Waiters[:0]
	l.ReplyWaiter = nil
	for k := range l.pendingState {
		delete(l.pendingState, k)
	}
}

// idle reports whether a lock carries no live state and can be recycled.
func (l *Lock) idle() bool {
	return l.State == proto.StateUnlock &&
		len(l.Holders) == 0 &&
		len(l.ExpiredHolders) == 0 &&
		len(l.LVBHolders) == 0 &&
		len(l.StateWaiters) == 0 &&
		len(l.ActionWaiters) == 0 &&
		len(l.HighWaiters) == 0 &&
		len(l.Waiters) == 0 &&
		l.ReplyWaiter == nil
}

func (l *Lock) holderByName(name string) (*Holder, int) {
	for i, h := range l.Holders {
		if h.Name == name {
			return h, i
		}
	}
	return nil, -1
}

func (l *Lock) holderBySubID(subID uint64) (*Holder, int) {
	for i, h := range l.Holders {
		if h.SubID == subID {
			return h, i
		}
	}
	return nil, -1
}

func (l *Lock) lvbHolderByName(name string) (*Holder, int) {
	for i, h := range l.LVBHolders {
		if h.Name == name {
			return h, i
		}
	}
	return nil, -1
}

func removeHolder(list []*Holder, idx int) []*Holder {
	return append(list[:idx], list[idx+1:]...)
}
