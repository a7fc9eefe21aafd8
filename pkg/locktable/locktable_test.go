package locktable

import (
	"bytes"
	"testing"

	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wire"
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

type recordedReply struct {
	w    *Waiter
	code wireerr.Code
}

type recordedCallback struct {
	holder  string
	key     []byte
	desired proto.LockState
}

type fakeSink struct {
	replies    []recordedReply
	callbacks  []recordedCallback
	slaveMask  uint8
	replicated []*Waiter
}

func (f *fakeSink) SendReply(w *Waiter, err uint32) {
	f.replies = append(f.replies, recordedReply{w: w, code: wireerr.Code(err)})
}

func (f *fakeSink) SendCallback(holder string, key []byte, desired proto.LockState) {
	f.callbacks = append(f.callbacks, recordedCallback{holder: holder, key: key, desired: desired})
}

func (f *fakeSink) Replicate(w *Waiter) uint8 {
	f.replicated = append(f.replicated, w)
	return f.slaveMask
}

func stateWaiter(name string, key string, state proto.LockState, flags proto.Flags) *Waiter {
	return &Waiter{Kind: KindState, Name: name, Key: []byte(key), State: state, Flags: flags}
}

func (f *fakeSink) lastReply() (recordedReply, bool) {
	if len(f.replies) == 0 {
		return recordedReply{}, false
	}
	return f.replies[len(f.replies)-1], true
}

func TestPromoteInPlace(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateShared, 0))
	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.Ok {
		t.Fatalf("expected Ok granting Shd, got %+v ok=%v", r, ok)
	}

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	r, ok = sink.lastReply()
	if !ok || r.code != wireerr.Ok || r.w.State != proto.StateExclusive {
		t.Fatalf("expected promote to Exl Ok, got %+v", r)
	}

	l, ok := tbl.lookup([]byte("K"))
	if !ok || l.State != proto.StateExclusive || len(l.Holders) != 1 || l.Holders[0].Name != "A" {
		t.Fatalf("unexpected lock state: %+v", l)
	}
}

func TestBlockingAndDropCallback(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	tbl.SubmitState(stateWaiter("B", "K", proto.StateShared, 0))

	if len(sink.callbacks) == 0 {
		t.Fatalf("expected a drop-request callback to A")
	}
	cb := sink.callbacks[len(sink.callbacks)-1]
	if cb.holder != "A" || cb.desired != proto.StateShared {
		t.Fatalf("unexpected callback: %+v", cb)
	}

	l, _ := tbl.lookup([]byte("K"))
	if len(l.Waiters) != 1 || l.Waiters[0].Name != "B" {
		t.Fatalf("expected B queued in Waiters, got %+v", l.Waiters)
	}

	tbl.SubmitState(stateWaiter("A", "K", proto.StateUnlock, 0))

	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.Ok || r.w.Name != "B" || r.w.State != proto.StateShared {
		t.Fatalf("expected B granted Shd after A unlocks, got %+v", r)
	}
}

func TestTryFailsImmediately(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	tbl.SubmitState(stateWaiter("B", "K", proto.StateShared, proto.FlagTry))

	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.TryFailed {
		t.Fatalf("expected TryFailed, got %+v", r)
	}

	l, _ := tbl.lookup([]byte("K"))
	if len(l.Waiters) != 0 || len(l.HighWaiters) != 0 {
		t.Fatalf("B must never enter a conflict queue on Try, got %+v / %+v", l.Waiters, l.HighWaiters)
	}
	if l.State != proto.StateExclusive || l.Holders[0].Name != "A" {
		t.Fatalf("A must retain Exl, got %+v", l)
	}
}

func TestLVBPropagationOnDemote(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	tbl.SubmitAction(&Waiter{Kind: KindAction, Name: "A", Key: []byte("K"), Action: proto.ActionHoldLVB})

	l, _ := tbl.lookup([]byte("K"))
	l.LVB = []byte("v1")

	demote := stateWaiter("A", "K", proto.StateShared, proto.FlagHasLVB)
	demote.LVB = []byte("v2")
	tbl.SubmitState(demote)

	l, _ = tbl.lookup([]byte("K"))
	if l.State != proto.StateShared || !bytes.Equal(l.LVB, []byte("v2")) {
		t.Fatalf("expected Shd with LVB v2, got state=%v lvb=%q", l.State, l.LVB)
	}
}

func TestReplicationAckQuorum(t *testing.T) {
	sink := &fakeSink{slaveMask: 0b11}
	tbl := New(Config{}, sink)
	tbl.slaveMask = 0b11

	tbl.SubmitState(stateWaiter("C", "K", proto.StateExclusive, 0))

	l, _ := tbl.lookup([]byte("K"))
	if l.ReplyWaiter == nil {
		t.Fatalf("expected reply-waiter occupied awaiting slave quorum")
	}
	if len(sink.replies) != 0 {
		t.Fatalf("client must not be replied to before quorum, got %+v", sink.replies)
	}

	tbl.AckSlave([]byte("K"), 0b01)
	if _, ok := sink.lastReply(); ok {
		t.Fatalf("must not release on partial ack")
	}

	tbl.OnSlaveLeave(0b10)

	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.Ok {
		t.Fatalf("expected release once live mask shrank to acked subset, got %+v ok=%v", r, ok)
	}
	if l.ReplyWaiter != nil {
		t.Fatalf("reply-waiter should be cleared after release")
	}
}

func TestExpiryBlocksNewAcquires(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("N", "K", proto.StateExclusive, 0))
	tbl.NodeExpired("N")

	l, _ := tbl.lookup([]byte("K"))
	if l.State != proto.StateUnlock || len(l.ExpiredHolders) != 1 {
		t.Fatalf("expected Unlock with one expired holder, got %+v", l)
	}

	tbl.SubmitState(stateWaiter("M", "K", proto.StateShared, 0))
	l, _ = tbl.lookup([]byte("K"))
	if len(l.Waiters) != 1 {
		t.Fatalf("expected M pushed to Waiters behind the expired holder, got %+v", l.Waiters)
	}

	tbl.DropExpired("N")

	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.Ok || r.w.Name != "M" {
		t.Fatalf("expected M granted after drop-expired, got %+v", r)
	}
}

func TestUnlockByNonHolderIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateUnlock, 0))
	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.Ok {
		t.Fatalf("expected Ok no-op, got %+v", r)
	}
	if _, exists := tbl.lookup([]byte("K")); exists {
		t.Fatalf("an idle lock touched only by a no-op unlock should recycle")
	}
}

func TestDuplicateSlaveAckIdempotent(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)
	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))

	tbl.AckSlave([]byte("K"), 0b01)
	tbl.AckSlave([]byte("K"), 0b01)

	l, ok := tbl.lookup([]byte("K"))
	if !ok || l.State != proto.StateExclusive || len(l.Holders) != 1 {
		t.Fatalf("duplicate ack must not change final lock state: %+v", l)
	}
}

func TestAlreadyPend(t *testing.T) {
	sink := &fakeSink{slaveMask: 0b1}
	tbl := New(Config{}, sink)
	tbl.slaveMask = 0b1

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	tbl.SubmitState(stateWaiter("A", "K", proto.StateShared, 0))

	r, ok := sink.lastReply()
	if !ok || r.code != wireerr.AlreadyPend {
		t.Fatalf("expected AlreadyPend for a second outstanding request, got %+v", r)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)
	tbl.SubmitState(stateWaiter("A", "K1", proto.StateShared, 0))
	tbl.SubmitState(stateWaiter("B", "K2", proto.StateExclusive, 0))
	tbl.SubmitAction(&Waiter{Kind: KindAction, Name: "B", Key: []byte("K2"), Action: proto.ActionHoldLVB})
	if l, ok := tbl.lookup([]byte("K2")); ok {
		l.LVB = []byte("snap")
	}

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf, 0)
	if err := tbl.DumpSnapshot(enc); err != nil {
		t.Fatalf("DumpSnapshot: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	other := New(Config{}, &fakeSink{})
	dec := wire.NewDecoder(&buf)
	if err := other.LoadSnapshot(dec); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	l1, ok := other.lookup([]byte("K1"))
	if !ok || l1.State != proto.StateShared || len(l1.Holders) != 1 || l1.Holders[0].Name != "A" {
		t.Fatalf("K1 did not round-trip: %+v", l1)
	}
	l2, ok := other.lookup([]byte("K2"))
	if !ok || l2.State != proto.StateExclusive || !bytes.Equal(l2.LVB, []byte("snap")) ||
		len(l2.LVBHolders) != 1 || l2.LVBHolders[0].Name != "B" {
		t.Fatalf("K2 did not round-trip: %+v", l2)
	}
}

func TestUniversalInvariants(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateShared, 0))
	tbl.SubmitState(stateWaiter("B", "K", proto.StateShared, 0))
	tbl.SubmitState(stateWaiter("C", "K", proto.StateExclusive, 0))

	tbl.ForEach(func(l *Lock) {
		if l.State == proto.StateExclusive && len(l.Holders) > 1 {
			t.Fatalf("Exclusive lock with multiple holders: %+v", l)
		}
		if l.State == proto.StateUnlock && len(l.Holders) != 0 {
			t.Fatalf("Unlock state with holders: %+v", l)
		}
		if len(l.pendingState) > 1 {
			t.Fatalf("more than one outstanding state request tracked: %+v", l.pendingState)
		}
	})
}

func TestQueuedConflictBlocksNewCompatibleAcquire(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateShared, 0))
	tbl.SubmitState(stateWaiter("C", "K", proto.StateExclusive, 0))

	l, _ := tbl.lookup([]byte("K"))
	if len(l.Waiters) != 1 || l.Waiters[0].Name != "C" {
		t.Fatalf("expected C queued behind A's Shd hold, got %+v", l.Waiters)
	}

	// B's new Shared acquire is compatible with current state but C is
	// already queued ahead; it must queue behind C, not jump in front of it.
	repliesBefore := len(sink.replies)
	tbl.SubmitState(stateWaiter("B", "K", proto.StateShared, 0))
	if len(sink.replies) != repliesBefore {
		t.Fatalf("B must not be granted while C is queued ahead, got replies %+v", sink.replies)
	}
	l, _ = tbl.lookup([]byte("K"))
	if l.State != proto.StateShared || len(l.Holders) != 1 || l.Holders[0].Name != "A" {
		t.Fatalf("B's acquire must not have been granted: %+v", l)
	}
	if len(l.Waiters) != 2 || l.Waiters[0].Name != "C" || l.Waiters[1].Name != "B" {
		t.Fatalf("expected B queued behind C, got %+v", l.Waiters)
	}

	tbl.SubmitState(stateWaiter("A", "K", proto.StateUnlock, 0))
	r, ok := sink.lastReply()
	if !ok || r.w.Name != "C" || r.code != wireerr.Ok {
		t.Fatalf("expected C granted Exclusive once A unlocks (fairness preserved), got %+v", r)
	}
}

func TestSoleHolderMutateUnlocksSelfWhenQueuedBehind(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateDeferred, 0))
	tbl.SubmitState(stateWaiter("C", "K", proto.StateExclusive, 0))

	l, _ := tbl.lookup([]byte("K"))
	if len(l.Waiters) != 1 || l.Waiters[0].Name != "C" {
		t.Fatalf("expected C queued behind A's Dfr hold, got %+v", l.Waiters)
	}

	// A asks to cross from Dfr to Shd while C is already queued ahead: A
	// must release its own hold (so C can proceed) rather than mutate in
	// place and strand C behind a holder that never lets go.
	tbl.SubmitState(stateWaiter("A", "K", proto.StateShared, 0))

	// With A's hold gone, the same engine run grants C from the head of
	// Waiters and leaves A queued behind it.
	l, _ = tbl.lookup([]byte("K"))
	if len(l.Holders) != 1 || l.Holders[0].Name != "C" || l.State != proto.StateExclusive {
		t.Fatalf("expected A to have released its hold and C granted Exclusive, got %+v", l)
	}
	if len(l.Waiters) != 1 || l.Waiters[0].Name != "A" {
		t.Fatalf("expected A requeued behind C, got %+v", l.Waiters)
	}

	// Re-running the queues keeps C's grant in place rather than
	// deadlocking with A's old hold.
	tbl.RerunQueues()
	r, ok := sink.lastReply()
	if !ok || r.w.Name != "C" || r.code != wireerr.Ok {
		t.Fatalf("expected C granted Exclusive after A released, got %+v", r)
	}

	l, _ = tbl.lookup([]byte("K"))
	if l.State != proto.StateExclusive || len(l.Holders) != 1 || l.Holders[0].Name != "C" {
		t.Fatalf("unexpected lock state after C's grant: %+v", l)
	}

	tbl.SubmitState(stateWaiter("C", "K", proto.StateUnlock, 0))
	r, ok = sink.lastReply()
	if !ok || r.w.Name != "A" || r.code != wireerr.Ok || r.w.State != proto.StateShared {
		t.Fatalf("expected A finally granted Shd once C releases, got %+v", r)
	}
}

func TestNodeExpiredZeroesSharedLVBInPlace(t *testing.T) {
	sink := &fakeSink{}
	tbl := New(Config{}, sink)

	tbl.SubmitState(stateWaiter("A", "K", proto.StateExclusive, 0))
	tbl.SubmitAction(&Waiter{Kind: KindAction, Name: "A", Key: []byte("K"), Action: proto.ActionHoldLVB})
	tbl.SubmitAction(&Waiter{Kind: KindAction, Name: "B", Key: []byte("K"), Action: proto.ActionHoldLVB})

	l, _ := tbl.lookup([]byte("K"))
	l.LVB[0] = 0xAB
	if len(l.LVBHolders) != 2 {
		t.Fatalf("expected both A and B holding the LVB, got %+v", l.LVBHolders)
	}

	tbl.NodeExpired("A")

	l, ok := tbl.lookup([]byte("K"))
	if !ok {
		t.Fatalf("lock should still exist: B remains an LVB holder")
	}
	if l.LVB == nil {
		t.Fatalf("LVB must not be nilled while B still holds it")
	}
	for i, b := range l.LVB {
		if b != 0 {
			t.Fatalf("expected LVB zeroed in place at byte %d, got %+v", i, l.LVB)
		}
	}
	if len(l.LVBHolders) != 1 || l.LVBHolders[0].Name != "B" {
		t.Fatalf("expected only B left as LVB holder, got %+v", l.LVBHolders)
	}
}
