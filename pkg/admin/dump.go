package admin

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wireerr"
	"gopkg.in/yaml.v3"
)

// holderDump is one holder entry in a lock dump.
type holderDump struct {
	Name  string `yaml:"name"`
	SubID uint64 `yaml:"subid"`
	Start uint64 `yaml:"start,omitempty"`
	Stop  uint64 `yaml:"stop,omitempty"`
	State string `yaml:"state"`
}

// historyDump is one retained completed-waiter entry, for lock-dump
// debugging.
type historyDump struct {
	RequestID   string `yaml:"request_id"`
	Name        string `yaml:"name"`
	SubID       uint64 `yaml:"subid"`
	Outcome     string `yaml:"outcome"`
	CompletedAt string `yaml:"completed_at"`
}

// lockDump is one lock's full state, for operator debugging.
type lockDump struct {
	Key            string        `yaml:"key"`
	State          string        `yaml:"state"`
	LVB            string        `yaml:"lvb,omitempty"`
	Holders        []holderDump  `yaml:"holders,omitempty"`
	ExpiredHolders []holderDump  `yaml:"expired_holders,omitempty"`
	LVBHolders     []holderDump  `yaml:"lvb_holders,omitempty"`
	QueueDepth     int           `yaml:"queue_depth"`
	History        []historyDump `yaml:"history,omitempty"`
}

// lockspaceDump is the top-level document written by lock_dump_req.
type lockspaceDump struct {
	DumpedAt string     `yaml:"dumped_at"`
	Locks    []lockDump `yaml:"locks"`
}

// dump writes a YAML snapshot of the lockspace to pathPrefix, suffixed
// with a timestamp, and returns the reply to send back: path is a
// prefix, the dump writer appends a pid/timestamp-derived suffix.
func (h *Handler) dump(pathPrefix string) *proto.LockDumpRpl {
	path := fmt.Sprintf("%s.%d.%d.yaml", pathPrefix, os.Getpid(), time.Now().Unix())

	doc := lockspaceDump{DumpedAt: time.Now().UTC().Format(time.RFC3339)}
	h.Table.ForEach(func(l *locktable.Lock) {
		doc.Locks = append(doc.Locks, dumpLock(l))
	})

	data, err := yaml.Marshal(doc)
	if err != nil {
		logger.Error("lock dump marshal failed", "err", err)
		return &proto.LockDumpRpl{Path: path, Err: uint32(wireerr.MemoryIssues)}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Error("lock dump write failed", "path", path, "err", err)
		return &proto.LockDumpRpl{Path: path, Err: uint32(wireerr.MemoryIssues)}
	}
	return &proto.LockDumpRpl{Path: path, Err: uint32(wireerr.Ok)}
}

func dumpLock(l *locktable.Lock) lockDump {
	d := lockDump{
		Key:   base64.StdEncoding.EncodeToString(l.Key),
		State: l.State.String(),
	}
	if len(l.LVB) > 0 {
		d.LVB = base64.StdEncoding.EncodeToString(l.LVB)
	}
	for _, hld := range l.Holders {
		d.Holders = append(d.Holders, dumpHolder(hld))
	}
	for _, hld := range l.ExpiredHolders {
		d.ExpiredHolders = append(d.ExpiredHolders, dumpHolder(hld))
	}
	for _, hld := range l.LVBHolders {
		d.LVBHolders = append(d.LVBHolders, dumpHolder(hld))
	}
	d.QueueDepth = len(l.StateWaiters) + len(l.ActionWaiters) + len(l.HighWaiters) + len(l.Waiters)
	if l.History != nil {
		for _, e := range l.History.Entries() {
			d.History = append(d.History, dumpHistoryEntry(e))
		}
	}
	return d
}

func dumpHistoryEntry(e locktable.HistoryEntry) historyDump {
	outcome := e.Code.String()
	if e.Kind == locktable.KindAction {
		outcome = e.Action.String() + ":" + outcome
	} else {
		outcome = e.State.String() + ":" + outcome
	}
	return historyDump{
		RequestID:   e.RequestID,
		Name:        e.Name,
		SubID:       e.SubID,
		Outcome:     outcome,
		CompletedAt: e.CompletedAt.UTC().Format(time.RFC3339Nano),
	}
}

func dumpHolder(h *locktable.Holder) holderDump {
	return holderDump{
		Name: h.Name, SubID: h.SubID,
		Start: h.Start, Stop: h.Stop,
		State: h.State.String(),
	}
}
