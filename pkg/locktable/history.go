package locktable

import (
	"time"

	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wireerr"
	"github.com/google/uuid"
)

// HistoryEntry is one completed waiter, retained for lock-dump debugging.
// RequestID is a fresh UUID minted at record time rather than carried on
// the wire: it exists purely so an operator correlating a lock_dump_req
// snapshot against log lines can tell two same-named-client, same-key
// completions apart.
type HistoryEntry struct {
	RequestID  string
	Name       string
	SubID      uint64
	Kind       WaiterKind
	State      proto.LockState
	Action     proto.ActionCode
	Code       wireerr.Code
	CompletedAt time.Time
}

// history is a fixed-capacity ring buffer of the most recently completed
// waiters for a lock, bounded per the configured depth.
type history struct {
	entries []HistoryEntry
	next    int
	full    bool
}

func newHistory(depth int) *history {
	return &history{entries: make([]HistoryEntry, depth)}
}

func (h *history) record(w *Waiter, code wireerr.Code) {
	if len(h.entries) == 0 {
		return
	}
	h.entries[h.next] = HistoryEntry{
		RequestID:   uuid.New().String(),
		Name:        w.Name,
		SubID:       w.SubID,
		Kind:        w.Kind,
		State:       w.State,
		Action:      w.Action,
		Code:        code,
		CompletedAt: time.Now(),
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Entries returns the retained entries, oldest first.
func (h *history) Entries() []HistoryEntry {
	if !h.full {
		return append([]HistoryEntry(nil), h.entries[:h.next]...)
	}
	out := make([]HistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}
