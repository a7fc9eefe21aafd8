package locktable

import "github.com/clusterlockd/ltd/pkg/proto"

// ForceState blindly applies a lock_state_updt received from the master
// by blindly mutating counters and holder lists to match. Unlike SubmitState, this
// never queues, never replicates, and never consults pendingState: a
// slave trusts the master's decision unconditionally and simply mirrors
// it, then acks with an UpdateRpl carrying only the key.
func (t *Table) ForceState(key []byte, subID, start, stop uint64, state proto.LockState, flags proto.Flags, name string, lvb []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.getOrCreate(key)

	if state == proto.StateUnlock {
		if h, idx := l.holderByName(name); h != nil {
			l.Holders = removeHolder(l.Holders, idx)
			if len(l.Holders) == 0 {
				l.State = proto.StateUnlock
			}
		}
		t.recycleIfIdle(l)
		return
	}

	if h, _ := l.holderByName(name); h != nil {
		h.State = state
		h.Start, h.Stop = start, stop
	} else {
		l.Holders = append(l.Holders, &Holder{Name: name, SubID: subID, Start: start, Stop: stop, State: state})
	}
	l.State = state
	if flags.Has(proto.FlagHasLVB) {
		l.LVB = append([]byte(nil), lvb...)
	}
	t.recycleIfIdle(l)
}

// ForceAction mirrors a lock_action_updt: HoldLVB/UnHoldLVB/SyncLVB applied
// unconditionally, matching the master's already-validated decision.
func (t *Table) ForceAction(key []byte, subID uint64, action proto.ActionCode, name string, lvb []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.getOrCreate(key)
	switch action {
	case proto.ActionHoldLVB:
		if _, idx := l.lvbHolderByName(name); idx < 0 {
			if l.LVB == nil {
				l.LVB = make([]byte, 32)
			}
			l.LVBHolders = append(l.LVBHolders, &Holder{Name: name, SubID: subID})
		}
	case proto.ActionUnHoldLVB:
		if _, idx := l.lvbHolderByName(name); idx >= 0 {
			l.LVBHolders = removeHolder(l.LVBHolders, idx)
			if len(l.LVBHolders) == 0 {
				l.LVB = nil
			}
		}
	case proto.ActionSyncLVB:
		if len(lvb) > 0 {
			l.LVB = append([]byte(nil), lvb...)
		}
	}
	t.recycleIfIdle(l)
}
