package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// InfoStatsReq is info_stats_req: an empty-bodied stats snapshot request.
type InfoStatsReq struct{}

func (m *InfoStatsReq) Opcode() Opcode           { return OpInfoStatsReq }
func (m *InfoStatsReq) Encode(enc *wire.Encoder) error { return nil }
func (m *InfoStatsReq) Decode(dec *wire.Decoder) error { return nil }

// InfoStatsRpl is info_stats_rpl, the stats snapshot: per-shard
// queue lengths, per-state lock counts, pending-request counts,
// reply-queue depth, free-pool depths, pid, uptime, and current role.
type InfoStatsRpl struct {
	PerShardQueueLen    []uint32
	LockCountByState    [4]uint32
	PendingRequestCount uint32
	ReplyQueueDepth     uint32
	FreeLocksDepth      uint32
	FreeWaitersDepth    uint32
	FreeHoldersDepth    uint32
	Pid                 uint32
	UptimeSeconds       uint64
	Role                Role
	Err                 uint32
}

func (m *InfoStatsRpl) Opcode() Opcode { return OpInfoStatsRpl }

func (m *InfoStatsRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteListStart(); err != nil {
		return err
	}
	for _, v := range m.PerShardQueueLen {
		if err := enc.WriteU32(v); err != nil {
			return err
		}
	}
	if err := enc.WriteListStop(); err != nil {
		return err
	}
	for _, v := range m.LockCountByState {
		if err := enc.WriteU32(v); err != nil {
			return err
		}
	}
	if err := enc.WriteU32(m.PendingRequestCount); err != nil {
		return err
	}
	if err := enc.WriteU32(m.ReplyQueueDepth); err != nil {
		return err
	}
	if err := enc.WriteU32(m.FreeLocksDepth); err != nil {
		return err
	}
	if err := enc.WriteU32(m.FreeWaitersDepth); err != nil {
		return err
	}
	if err := enc.WriteU32(m.FreeHoldersDepth); err != nil {
		return err
	}
	if err := enc.WriteU32(m.Pid); err != nil {
		return err
	}
	if err := enc.WriteU64(m.UptimeSeconds); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(m.Role)); err != nil {
		return err
	}
	return enc.WriteU32(m.Err)
}

func (m *InfoStatsRpl) Decode(dec *wire.Decoder) error {
	if err := dec.ReadListStart(); err != nil {
		return err
	}
	m.PerShardQueueLen = nil
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			return err
		}
		if stop {
			break
		}
		v, err := dec.ReadU32()
		if err != nil {
			return err
		}
		m.PerShardQueueLen = append(m.PerShardQueueLen, v)
	}
	if err := dec.ReadListStop(); err != nil {
		return err
	}

	for i := range m.LockCountByState {
		v, err := dec.ReadU32()
		if err != nil {
			return err
		}
		m.LockCountByState[i] = v
	}

	var err error
	if m.PendingRequestCount, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.ReplyQueueDepth, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.FreeLocksDepth, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.FreeWaitersDepth, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.FreeHoldersDepth, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.Pid, err = dec.ReadU32(); err != nil {
		return err
	}
	if m.UptimeSeconds, err = dec.ReadU64(); err != nil {
		return err
	}
	role, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.Role = Role(role)

	if m.Err, err = dec.ReadU32(); err != nil {
		return err
	}
	return nil
}

// InfoSlaveListReq is info_slave_list_req: an empty-bodied request.
type InfoSlaveListReq struct{}

func (m *InfoSlaveListReq) Opcode() Opcode           { return OpInfoSlaveListReq }
func (m *InfoSlaveListReq) Encode(enc *wire.Encoder) error { return nil }
func (m *InfoSlaveListReq) Decode(dec *wire.Decoder) error { return nil }

// SlaveInfo is one slot of InfoSlaveListRpl.
type SlaveInfo struct {
	Name string
	Live bool
}

// InfoSlaveListRpl is info_slave_list_rpl: the current slave table,
// limited to the 4-slot cap.
type InfoSlaveListRpl struct {
	Slaves []SlaveInfo
	Err    uint32
}

func (m *InfoSlaveListRpl) Opcode() Opcode { return OpInfoSlaveListRpl }

func (m *InfoSlaveListRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteListStart(); err != nil {
		return err
	}
	for _, s := range m.Slaves {
		if err := enc.WriteString(s.Name); err != nil {
			return err
		}
		live := uint8(0)
		if s.Live {
			live = 1
		}
		if err := enc.WriteU8(live); err != nil {
			return err
		}
	}
	if err := enc.WriteListStop(); err != nil {
		return err
	}
	return enc.WriteU32(m.Err)
}

func (m *InfoSlaveListRpl) Decode(dec *wire.Decoder) error {
	if err := dec.ReadListStart(); err != nil {
		return err
	}
	m.Slaves = nil
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			return err
		}
		if stop {
			break
		}
		name, err := dec.ReadString()
		if err != nil {
			return err
		}
		live, err := dec.ReadU8()
		if err != nil {
			return err
		}
		m.Slaves = append(m.Slaves, SlaveInfo{Name: name, Live: live != 0})
	}
	if err := dec.ReadListStop(); err != nil {
		return err
	}
	e, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Err = e
	return nil
}

// InfoSetVerbosity is info_set_verbosity{string level}.
type InfoSetVerbosity struct {
	Level string
}

func (m *InfoSetVerbosity) Opcode() Opcode { return OpInfoSetVerbosity }

func (m *InfoSetVerbosity) Encode(enc *wire.Encoder) error {
	return enc.WriteString(m.Level)
}

func (m *InfoSetVerbosity) Decode(dec *wire.Decoder) error {
	level, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Level = level
	return nil
}

// LockDumpReq is lock_dump_req{string path}: path is a prefix, the dump
// writer appends a pid/timestamp-derived suffix.
type LockDumpReq struct {
	Path string
}

func (m *LockDumpReq) Opcode() Opcode { return OpLockDumpReq }

func (m *LockDumpReq) Encode(enc *wire.Encoder) error {
	return enc.WriteString(m.Path)
}

func (m *LockDumpReq) Decode(dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Path = path
	return nil
}

// LockDumpRpl is lock_dump_rpl{string path, u32 err}.
type LockDumpRpl struct {
	Path string
	Err  uint32
}

func (m *LockDumpRpl) Opcode() Opcode { return OpLockDumpRpl }

func (m *LockDumpRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteString(m.Path); err != nil {
		return err
	}
	return enc.WriteU32(m.Err)
}

func (m *LockDumpRpl) Decode(dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Path = path

	e, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Err = e
	return nil
}

// LockRerunQueues is lock_rerunqueues: an empty-bodied request that
// forces a re-drain of every lock's waiter queues, used operationally
// after a bug-triggered stall.
type LockRerunQueues struct{}

func (m *LockRerunQueues) Opcode() Opcode           { return OpLockRerunQueues }
func (m *LockRerunQueues) Encode(enc *wire.Encoder) error { return nil }
func (m *LockRerunQueues) Decode(dec *wire.Decoder) error { return nil }

// SocketClose is socket_close: an empty-bodied graceful-shutdown request.
type SocketClose struct{}

func (m *SocketClose) Opcode() Opcode           { return OpSocketClose }
func (m *SocketClose) Encode(enc *wire.Encoder) error { return nil }
func (m *SocketClose) Decode(dec *wire.Decoder) error { return nil }
