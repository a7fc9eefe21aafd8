package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// ActionReq is lock_action_req{raw key, u64 subid, u64 start, u64 stop,
// u8 action, u32 flags, [raw LVB if hasLVB]}: the action-message twin of
// StateReq, carrying an ActionCode where state messages carry a LockState.
type ActionReq struct {
	Key    []byte
	SubID  uint64
	Start  uint64
	Stop   uint64
	Action ActionCode
	Flags  Flags
	LVB    []byte
}

func (m *ActionReq) Opcode() Opcode { return OpLockActionReq }

func (m *ActionReq) Encode(enc *wire.Encoder) error {
	return encodeStateBody(enc, m.Key, m.SubID, m.Start, m.Stop, LockState(m.Action), m.Flags, m.LVB)
}

func (m *ActionReq) Decode(dec *wire.Decoder) error {
	key, subid, start, stop, state, flags, lvb, err := decodeStateBody(dec)
	if err != nil {
		return err
	}
	m.Key, m.SubID, m.Start, m.Stop, m.Action, m.Flags, m.LVB = key, subid, start, stop, ActionCode(state), flags, lvb
	return nil
}

// ActionRpl is lock_action_rpl, the reply twin of ActionReq with an
// appended u32 err.
type ActionRpl struct {
	Key    []byte
	SubID  uint64
	Start  uint64
	Stop   uint64
	Action ActionCode
	Flags  Flags
	Err    uint32
	LVB    []byte
}

func (m *ActionRpl) Opcode() Opcode { return OpLockActionRpl }

func (m *ActionRpl) Encode(enc *wire.Encoder) error {
	if err := encodeStateBodyNoLVB(enc, m.Key, m.SubID, m.Start, m.Stop, LockState(m.Action), m.Flags); err != nil {
		return err
	}
	if err := enc.WriteU32(m.Err); err != nil {
		return err
	}
	if m.Flags.Has(FlagHasLVB) {
		return enc.WriteRaw(m.LVB)
	}
	return nil
}

func (m *ActionRpl) Decode(dec *wire.Decoder) error {
	key, subid, start, stop, state, flags, err := decodeStateBodyNoLVB(dec)
	if err != nil {
		return err
	}
	m.Key, m.SubID, m.Start, m.Stop, m.Action, m.Flags = key, subid, start, stop, ActionCode(state), flags

	e, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Err = e

	if m.Flags.Has(FlagHasLVB) {
		lvb, err := dec.ReadRaw()
		if err != nil {
			return err
		}
		m.LVB = lvb
	}
	return nil
}

// ActionUpdt is lock_action_updt, sent master->slave, same schema as
// ActionReq plus the requester's name (see StateUpdt.Name).
type ActionUpdt struct {
	Key    []byte
	SubID  uint64
	Start  uint64
	Stop   uint64
	Action ActionCode
	Flags  Flags
	LVB    []byte
	Name   string
}

func (m *ActionUpdt) Opcode() Opcode { return OpLockActionUpdt }

func (m *ActionUpdt) Encode(enc *wire.Encoder) error {
	if err := encodeStateBody(enc, m.Key, m.SubID, m.Start, m.Stop, LockState(m.Action), m.Flags, m.LVB); err != nil {
		return err
	}
	return enc.WriteString(m.Name)
}

func (m *ActionUpdt) Decode(dec *wire.Decoder) error {
	key, subid, start, stop, state, flags, lvb, err := decodeStateBody(dec)
	if err != nil {
		return err
	}
	m.Key, m.SubID, m.Start, m.Stop, m.Action, m.Flags, m.LVB = key, subid, start, stop, ActionCode(state), flags, lvb
	name, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Name = name
	return nil
}
