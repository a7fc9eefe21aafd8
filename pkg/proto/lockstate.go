package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// StateReq is lock_state_req{raw key, u64 subid, u64 start, u64 stop,
// u8 state, u32 flags, [raw LVB if hasLVB]}.
type StateReq struct {
	Key   []byte
	SubID uint64
	Start uint64
	Stop  uint64
	State LockState
	Flags Flags
	LVB   []byte
}

func (m *StateReq) Opcode() Opcode { return OpLockStateReq }

func (m *StateReq) Encode(enc *wire.Encoder) error {
	return encodeStateBody(enc, m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags, m.LVB)
}

func (m *StateReq) Decode(dec *wire.Decoder) error {
	var err error
	m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags, m.LVB, err = decodeStateBody(dec)
	return err
}

// StateRpl is lock_state_rpl{raw key, u64 subid, u64 start, u64 stop,
// u8 state, u32 flags, u32 err, [raw LVB if hasLVB]}.
type StateRpl struct {
	Key   []byte
	SubID uint64
	Start uint64
	Stop  uint64
	State LockState
	Flags Flags
	Err   uint32
	LVB   []byte
}

func (m *StateRpl) Opcode() Opcode { return OpLockStateRpl }

func (m *StateRpl) Encode(enc *wire.Encoder) error {
	if err := encodeStateBodyNoLVB(enc, m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags); err != nil {
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

func (m *StateRpl) Decode(dec *wire.Decoder) error {
	key, subid, start, stop, state, flags, err := decodeStateBodyNoLVB(dec)
	if err != nil {
		return err
	}
	m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags = key, subid, start, stop, state, flags

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

// StateUpdt is lock_state_updt, sent master->slave with the same body as
// StateReq plus the requester's name: a slave has no other way to learn
// which client a replicated holder belongs to, since it never saw the
// client's own login.
type StateUpdt struct {
	Key   []byte
	SubID uint64
	Start uint64
	Stop  uint64
	State LockState
	Flags Flags
	LVB   []byte
	Name  string
}

func (m *StateUpdt) Opcode() Opcode { return OpLockStateUpdt }

func (m *StateUpdt) Encode(enc *wire.Encoder) error {
	if err := encodeStateBody(enc, m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags, m.LVB); err != nil {
		return err
	}
	return enc.WriteString(m.Name)
}

func (m *StateUpdt) Decode(dec *wire.Decoder) error {
	var err error
	m.Key, m.SubID, m.Start, m.Stop, m.State, m.Flags, m.LVB, err = decodeStateBody(dec)
	if err != nil {
		return err
	}
	m.Name, err = dec.ReadString()
	return err
}

// UpdateRpl is lock_update_rpl, sent slave->master, carrying only the key.
type UpdateRpl struct {
	Key []byte
}

func (m *UpdateRpl) Opcode() Opcode { return OpLockUpdateRpl }

func (m *UpdateRpl) Encode(enc *wire.Encoder) error {
	return enc.WriteRaw(m.Key)
}

func (m *UpdateRpl) Decode(dec *wire.Decoder) error {
	key, err := dec.ReadRaw()
	if err != nil {
		return err
	}
	m.Key = key
	return nil
}

func encodeStateBodyNoLVB(enc *wire.Encoder, key []byte, subid, start, stop uint64, state LockState, flags Flags) error {
	if err := enc.WriteRaw(key); err != nil {
		return err
	}
	if err := enc.WriteU64(subid); err != nil {
		return err
	}
	if err := enc.WriteU64(start); err != nil {
		return err
	}
	if err := enc.WriteU64(stop); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(state)); err != nil {
		return err
	}
	return enc.WriteU32(uint32(flags))
}

func decodeStateBodyNoLVB(dec *wire.Decoder) ([]byte, uint64, uint64, uint64, LockState, Flags, error) {
	key, err := dec.ReadRaw()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	subid, err := dec.ReadU64()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	start, err := dec.ReadU64()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	stop, err := dec.ReadU64()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	state, err := dec.ReadU8()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	flags, err := dec.ReadU32()
	if err != nil {
		return nil, 0, 0, 0, 0, 0, err
	}
	return key, subid, start, stop, LockState(state), Flags(flags), nil
}

func encodeStateBody(enc *wire.Encoder, key []byte, subid, start, stop uint64, state LockState, flags Flags, lvb []byte) error {
	if err := encodeStateBodyNoLVB(enc, key, subid, start, stop, state, flags); err != nil {
		return err
	}
	if flags.Has(FlagHasLVB) {
		return enc.WriteRaw(lvb)
	}
	return nil
}

func decodeStateBody(dec *wire.Decoder) ([]byte, uint64, uint64, uint64, LockState, Flags, []byte, error) {
	key, subid, start, stop, state, flags, err := decodeStateBodyNoLVB(dec)
	if err != nil {
		return nil, 0, 0, 0, 0, 0, nil, err
	}
	var lvb []byte
	if flags.Has(FlagHasLVB) {
		lvb, err = dec.ReadRaw()
		if err != nil {
			return nil, 0, 0, 0, 0, 0, nil, err
		}
	}
	return key, subid, start, stop, state, flags, lvb, nil
}
