package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// QueryReq is lock_query_req{raw key, u64 subid, u32 flags}: a read-only
// probe of a key's current state, for clients that want a non-blocking
// snapshot before deciding whether to queue a real request.
type QueryReq struct {
	Key   []byte
	SubID uint64
	Flags Flags
}

func (m *QueryReq) Opcode() Opcode { return OpLockQueryReq }

func (m *QueryReq) Encode(enc *wire.Encoder) error {
	if err := enc.WriteRaw(m.Key); err != nil {
		return err
	}
	if err := enc.WriteU64(m.SubID); err != nil {
		return err
	}
	return enc.WriteU32(uint32(m.Flags))
}

func (m *QueryReq) Decode(dec *wire.Decoder) error {
	key, err := dec.ReadRaw()
	if err != nil {
		return err
	}
	m.Key = key

	subid, err := dec.ReadU64()
	if err != nil {
		return err
	}
	m.SubID = subid

	flags, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Flags = Flags(flags)
	return nil
}

// QueryRpl is lock_query_rpl{raw key, u8 state, u32 holder_count,
// u32 err}.
type QueryRpl struct {
	Key         []byte
	State       LockState
	HolderCount uint32
	Err         uint32
}

func (m *QueryRpl) Opcode() Opcode { return OpLockQueryRpl }

func (m *QueryRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteRaw(m.Key); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(m.State)); err != nil {
		return err
	}
	if err := enc.WriteU32(m.HolderCount); err != nil {
		return err
	}
	return enc.WriteU32(m.Err)
}

func (m *QueryRpl) Decode(dec *wire.Decoder) error {
	key, err := dec.ReadRaw()
	if err != nil {
		return err
	}
	m.Key = key

	state, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.State = LockState(state)

	hc, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.HolderCount = hc

	e, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Err = e
	return nil
}
