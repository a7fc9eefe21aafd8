package locktable

import (
	"github.com/clusterlockd/ltd/pkg/metrics"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

type evalStatus int

const (
	evalImmediate evalStatus = iota
	evalConflict
)

type evalOutcome struct {
	status    evalStatus
	code      wireerr.Code
	replicate bool
}

const (
	stepNone = iota
	stepProgressed
	stepBlocked
)

// SubmitState enqueues a state request (including Unlock) onto its lock's
// State_Waiters and runs the engine.
func (t *Table) SubmitState(w *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.getOrCreate(w.Key)
	if _, pending := l.pendingState[w.Name]; pending {
		t.sink.SendReply(w, uint32(wireerr.AlreadyPend))
		t.recycleIfIdle(l)
		return
	}
	l.pendingState[w.Name] = struct{}{}
	l.StateWaiters = append(l.StateWaiters, w)
	metrics.Global().ObserveRequest(w.State.String(), "")
	t.runWaitQu(l)
	t.recycleIfIdle(l)
}

// SubmitAction enqueues an action request. Cancel is handled out of band:
// it dequeues a matching waiter rather than entering the queue itself.
func (t *Table) SubmitAction(w *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.getOrCreate(w.Key)
	if w.Action == proto.ActionCancel {
		t.cancelMatching(l, w)
		t.recycleIfIdle(l)
		return
	}
	l.ActionWaiters = append(l.ActionWaiters, w)
	metrics.Global().ObserveRequest("", w.Action.String())
	t.runWaitQu(l)
	t.recycleIfIdle(l)
}

// AckSlave records a slave's update_rpl for the request currently occupying
// key's reply-waiter slot, releasing the client reply once quorum is met.
func (t *Table) AckSlave(key []byte, bit uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.lookup(key)
	if !ok || l.ReplyWaiter == nil {
		return
	}
	l.ReplyWaiter.SlaveRpls |= bit
	if t.tryRelease(l) {
		t.runWaitQu(l)
	}
	t.recycleIfIdle(l)
}

// OnSlaveJoin marks a newly attached slave's bit in every outstanding
// reply-waiter's Slave_sent field, since the slave already holds the fresh
// lockspace snapshot transferred at login.
func (t *Table) OnSlaveJoin(bit uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slaveMask |= bit
	for _, l := range t.byKey {
		if l.ReplyWaiter == nil {
			continue
		}
		l.ReplyWaiter.SlaveSent |= bit
		if t.tryRelease(l) {
			t.runWaitQu(l)
		}
	}
}

// OnSlaveLeave clears bit from the live slave mask and re-scans every
// outstanding reply-waiter, since a dead slave may no longer block quorum.
func (t *Table) OnSlaveLeave(bit uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slaveMask &^= bit
	for _, l := range t.byKey {
		if l.ReplyWaiter == nil {
			continue
		}
		if t.tryRelease(l) {
			t.runWaitQu(l)
		}
	}
}

// DropExpired clears name from every lock's expired-holder list, unblocking
// requests that were waiting on the NoExp gate.
func (t *Table) DropExpired(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range t.byKey {
		changed := false
		for i, h := range l.ExpiredHolders {
			if h.Name == name {
				l.ExpiredHolders = append(l.ExpiredHolders[:i], l.ExpiredHolders[i+1:]...)
				changed = true
				break
			}
		}
		if changed {
			t.runWaitQu(l)
			t.recycleIfIdle(l)
		}
	}
}

// RerunQueues forces every lock to re-drain its waiter queues, for the
// operational `lock_rerunqueues` escape hatch used after a stall.
func (t *Table) RerunQueues() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range t.byKey {
		t.runWaitQu(l)
		t.recycleIfIdle(l)
	}
}

// NodeExpired applies the expiry procedure for a node reported dead by
// the membership collaborator: it is dropped from every queue, its LVB
// holdership is released (freeing the LVB if it was last), and an active
// Exclusive hold is moved to the expired-holder list.
func (t *Table) NodeExpired(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range t.byKey {
		l.StateWaiters = removeWaitersByName(l.StateWaiters, name)
		l.ActionWaiters = removeWaitersByName(l.ActionWaiters, name)
		l.HighWaiters = removeWaitersByName(l.HighWaiters, name)
		l.Waiters = removeWaitersByName(l.Waiters, name)

		if lh, idx := l.lvbHolderByName(name); lh != nil {
			l.LVBHolders = removeHolder(l.LVBHolders, idx)
			if len(l.LVBHolders) == 0 {
				l.LVB = nil
			}
		}

		if h, idx := l.holderByName(name); h != nil && h.State == proto.StateExclusive {
			l.Holders = removeHolder(l.Holders, idx)
			l.State = proto.StateUnlock
			if len(l.LVBHolders) == 0 {
				l.LVB = nil
			} else {
				for i := range l.LVB {
					l.LVB[i] = 0
				}
			}
			l.ExpiredHolders = append(l.ExpiredHolders, h)
		}

		t.runWaitQu(l)
		t.recycleIfIdle(l)
	}
}

func removeWaitersByName(list []*Waiter, name string) []*Waiter {
	out := list[:0]
	for _, w := range list {
		if w.Name != name {
			out = append(out, w)
		}
	}
	return out
}

func (t *Table) cancelMatching(l *Lock, cancel *Waiter) {
	queues := []*[]*Waiter{&l.StateWaiters, &l.ActionWaiters, &l.HighWaiters, &l.Waiters}
	for _, q := range queues {
		for i, w := range *q {
			if w.Name == cancel.Name && w.SubID == cancel.SubID {
				*q = append((*q)[:i], (*q)[i+1:]...)
				t.reply(l, w, wireerr.Canceled)
				break
			}
		}
	}
	t.reply(l, cancel, wireerr.Ok)
}

// runWaitQu drains the four queues in priority order — actions, states,
// high-priority conflicts, normal conflicts — stopping as soon as the
// reply-waiter slot is occupied or nothing further can progress.
func (t *Table) runWaitQu(l *Lock) {
	for {
		if l.ReplyWaiter != nil {
			return
		}

		if t.drainIncoming(l, &l.ActionWaiters) {
			if l.ReplyWaiter != nil {
				return
			}
			continue
		}
		if t.drainIncoming(l, &l.StateWaiters) {
			if l.ReplyWaiter != nil {
				return
			}
			continue
		}

		switch t.stepConflict(l, &l.HighWaiters) {
		case stepProgressed:
			if l.ReplyWaiter != nil {
				return
			}
			continue
		case stepBlocked:
			return
		}

		switch t.stepConflict(l, &l.Waiters) {
		case stepProgressed:
			if l.ReplyWaiter != nil {
				return
			}
			continue
		case stepBlocked:
			return
		}

		return
	}
}

// drainIncoming pops and evaluates waiters until the queue empties or a
// grant leaves the reply-waiter slot occupied awaiting slave quorum.
func (t *Table) drainIncoming(l *Lock, queue *[]*Waiter) bool {
	for len(*queue) > 0 {
		w := (*queue)[0]
		*queue = (*queue)[1:]

		res := t.evaluateAndApply(l, w, false)
		if res.status == evalConflict {
			t.handleConflictFromIncoming(l, w)
			continue
		}
		t.completeGrant(l, w, res.replicate, res.code)
		if l.ReplyWaiter != nil {
			return true
		}
	}
	return false
}

func (t *Table) handleConflictFromIncoming(l *Lock, w *Waiter) {
	if w.hasFlag(proto.FlagTry) {
		if w.hasFlag(proto.FlagDoCB) {
			t.emitCallback(l, w)
		}
		t.reply(l, w, wireerr.TryFailed)
		return
	}
	if w.hasFlag(proto.FlagPiority) {
		l.HighWaiters = append([]*Waiter{w}, l.HighWaiters...)
	} else {
		l.Waiters = append(l.Waiters, w)
	}
}

// stepConflict re-evaluates the head of a conflict queue against current
// lock state: a grant pops and applies it; a continued conflict leaves it
// in place and emits a callback to the blocking holder.
func (t *Table) stepConflict(l *Lock, queue *[]*Waiter) int {
	if len(*queue) == 0 {
		return stepNone
	}
	w := (*queue)[0]
	res := t.evaluateAndApply(l, w, true)
	if res.status == evalConflict {
		t.emitCallback(l, w)
		return stepBlocked
	}
	*queue = (*queue)[1:]
	t.completeGrant(l, w, res.replicate, res.code)
	return stepProgressed
}

func (t *Table) emitCallback(l *Lock, w *Waiter) {
	for _, h := range l.Holders {
		if !proto.Compatible(h.State, w.State) {
			t.sink.SendCallback(h.Name, l.Key, w.State)
			return
		}
	}
}

// completeGrant finalizes a granted waiter: either replying immediately, or
// replicating it to slaves and occupying the reply-waiter slot until quorum.
func (t *Table) completeGrant(l *Lock, w *Waiter, replicate bool, code wireerr.Code) {
	if !replicate {
		t.reply(l, w, code)
		return
	}
	w.SlaveSent = t.sink.Replicate(w)
	w.SlaveRpls = 0
	l.ReplyWaiter = w
	t.tryRelease(l)
}

// tryRelease releases the reply-waiter once every slave it was sent to has
// acked, or once the live slave mask has shrunk to a subset already acked
// (a slave died mid-wait).
func (t *Table) tryRelease(l *Lock) bool {
	w := l.ReplyWaiter
	if w == nil {
		return true
	}
	if (w.SlaveRpls&w.SlaveSent) == w.SlaveSent || (w.SlaveRpls&t.slaveMask) == t.slaveMask {
		l.ReplyWaiter = nil
		t.reply(l, w, wireerr.Ok)
		return true
	}
	return false
}

func (t *Table) reply(l *Lock, w *Waiter, code wireerr.Code) {
	if w.Kind == KindState {
		delete(l.pendingState, w.Name)
	}
	if l.History != nil {
		l.History.record(w, code)
	}
	metrics.Global().ObserveReply(replyStatus(code))
	t.sink.SendReply(w, uint32(code))
}

// replyStatus maps a wire error code to the coarse status label
// metrics.ObserveReply groups by.
func replyStatus(code wireerr.Code) string {
	switch code {
	case wireerr.Ok:
		return metrics.StatusGranted
	case wireerr.TryFailed, wireerr.Canceled:
		return metrics.StatusDenied
	default:
		return metrics.StatusDenied
	}
}

// evaluateAndApply computes and, on grant, applies the per-request
// state-transition table, or the action-request equivalent. inRunQu is
// true when w is the head of a conflict queue being retried in place,
// false when w arrived fresh off State_Waiters/Action_Waiters.
func (t *Table) evaluateAndApply(l *Lock, w *Waiter, inRunQu bool) evalOutcome {
	if w.Kind == KindAction {
		return t.evaluateAction(l, w)
	}
	return t.evaluateState(l, w, inRunQu)
}

func (t *Table) evaluateAction(l *Lock, w *Waiter) evalOutcome {
	switch w.Action {
	case proto.ActionHoldLVB:
		if _, idx := l.lvbHolderByName(w.Name); idx < 0 {
			if l.LVB == nil {
				l.LVB = make([]byte, 32)
			}
			l.LVBHolders = append(l.LVBHolders, &Holder{Name: w.Name, SubID: w.SubID, ConnID: w.ReplyConnID})
		}
		return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: true}

	case proto.ActionUnHoldLVB:
		if _, idx := l.lvbHolderByName(w.Name); idx >= 0 {
			l.LVBHolders = removeHolder(l.LVBHolders, idx)
			if len(l.LVBHolders) == 0 {
				l.LVB = nil
			}
		}
		return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: true}

	case proto.ActionSyncLVB:
		h, _ := l.holderByName(w.Name)
		_, lvbIdx := l.lvbHolderByName(w.Name)
		if l.State == proto.StateExclusive && h != nil && lvbIdx >= 0 && len(w.LVB) > 0 && len(l.LVB) > 0 {
			l.LVB = append([]byte(nil), w.LVB...)
			return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: true}
		}
		return evalOutcome{status: evalImmediate, code: wireerr.BadStateChg, replicate: false}

	default:
		return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: false}
	}
}

func (t *Table) evaluateState(l *Lock, w *Waiter, inRunQu bool) evalOutcome {
	target := w.State
	if w.hasFlag(proto.FlagAny) && (l.State == proto.StateShared || l.State == proto.StateDeferred) {
		target = l.State
		w.State = target
	}

	if target != proto.StateUnlock && len(l.ExpiredHolders) > 0 && !w.hasFlag(proto.FlagNoExp) {
		return evalOutcome{status: evalConflict}
	}

	h, idx := l.holderByName(w.Name)
	queuedAhead := len(l.Waiters) > 0 || len(l.HighWaiters) > 0
	canProceed := inRunQu || !queuedAhead

	switch target {
	case proto.StateUnlock:
		if h == nil {
			return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: false}
		}
		t.selfUnlock(l, w, h, idx)
		return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: true}

	case proto.StateShared, proto.StateDeferred:
		if h != nil {
			if l.State == proto.StateExclusive && len(l.Holders) == 1 {
				t.copyLVBIn(l, w)
				h.State = target
				l.State = target
				return t.grantedWithLVB(l, w)
			}
			if l.State == target {
				return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: false}
			}
			if (l.State == proto.StateShared && target == proto.StateDeferred) ||
				(l.State == proto.StateDeferred && target == proto.StateShared) {
				if len(l.Holders) == 1 && canProceed {
					h.State = target
					l.State = target
					return t.grantedWithLVB(l, w)
				}
				// Already holding the lock in the wrong state with someone
				// else queued ahead: let go so the front of the queue can
				// make progress, then retry this request from the back.
				if !canProceed && !w.hasFlag(proto.FlagTry) {
					t.selfUnlock(l, w, h, idx)
				}
				return evalOutcome{status: evalConflict}
			}
			return evalOutcome{status: evalConflict}
		}
		if l.State == proto.StateUnlock {
			if !canProceed {
				return evalOutcome{status: evalConflict}
			}
			l.Holders = append(l.Holders, &Holder{Name: w.Name, SubID: w.SubID, Start: w.Start, Stop: w.Stop, State: target, ConnID: w.ReplyConnID})
			l.State = target
			return t.grantedWithLVB(l, w)
		}
		if l.State == target {
			if !canProceed {
				return evalOutcome{status: evalConflict}
			}
			l.Holders = append(l.Holders, &Holder{Name: w.Name, SubID: w.SubID, Start: w.Start, Stop: w.Stop, State: target, ConnID: w.ReplyConnID})
			return t.grantedWithLVB(l, w)
		}
		return evalOutcome{status: evalConflict}

	case proto.StateExclusive:
		if h != nil {
			if l.State == proto.StateExclusive {
				return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: false}
			}
			if len(l.Holders) == 1 && canProceed {
				h.State = proto.StateExclusive
				l.State = proto.StateExclusive
				return t.grantedWithLVB(l, w)
			}
			if !canProceed && !w.hasFlag(proto.FlagTry) {
				t.selfUnlock(l, w, h, idx)
			}
			return evalOutcome{status: evalConflict}
		}
		if l.State == proto.StateUnlock {
			if !canProceed {
				return evalOutcome{status: evalConflict}
			}
			l.Holders = append(l.Holders, &Holder{Name: w.Name, SubID: w.SubID, Start: w.Start, Stop: w.Stop, State: proto.StateExclusive, ConnID: w.ReplyConnID})
			l.State = proto.StateExclusive
			return t.grantedWithLVB(l, w)
		}
		return evalOutcome{status: evalConflict}
	}

	return evalOutcome{status: evalConflict}
}

// selfUnlock releases w's own hold without replying or replicating, so the
// request can be requeued behind an already-queued conflicting waiter
// instead of blocking it forever by sitting on the lock it wants to change.
func (t *Table) selfUnlock(l *Lock, w *Waiter, h *Holder, idx int) {
	wasExclusive := h.State == proto.StateExclusive
	l.Holders = removeHolder(l.Holders, idx)
	if wasExclusive && w.hasFlag(proto.FlagHasLVB) {
		if _, lvbIdx := l.lvbHolderByName(w.Name); lvbIdx >= 0 {
			l.LVB = append([]byte(nil), w.LVB...)
		}
	}
	if len(l.Holders) == 0 {
		l.State = proto.StateUnlock
	}
}

// copyLVBIn applies the "copy request's LVB into the lock's LVB" rule for a
// demotion away from Exclusive by an LVB-holder carrying hasLVB.
func (t *Table) copyLVBIn(l *Lock, w *Waiter) {
	if !w.hasFlag(proto.FlagHasLVB) {
		return
	}
	if _, idx := l.lvbHolderByName(w.Name); idx >= 0 {
		l.LVB = append([]byte(nil), w.LVB...)
	}
}

// grantedWithLVB stamps the lock's current LVB onto the waiter so the reply
// layer can attach it, per "attach the lock's current LVB bytes in the
// reply iff the lock has an LVB and the reply isn't for an unlock".
func (t *Table) grantedWithLVB(l *Lock, w *Waiter) evalOutcome {
	if l.LVB != nil {
		w.LVB = append([]byte(nil), l.LVB...)
		w.Flags |= proto.FlagHasLVB
	}
	return evalOutcome{status: evalImmediate, code: wireerr.Ok, replicate: true}
}
