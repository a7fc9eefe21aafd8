package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// CbState is lock_cb_state{raw key, u64 subid, u8 desired_state,
// [u64 send_timestamp]}, sent master->client to announce that a waiter
// wants the holder to drop down to desired_state. HasTimestamp controls
// whether the optional send_timestamp trails the message.
type CbState struct {
	Key           []byte
	SubID         uint64
	DesiredState  LockState
	HasTimestamp  bool
	SendTimestamp uint64
}

func (m *CbState) Opcode() Opcode { return OpLockCbState }

func (m *CbState) Encode(enc *wire.Encoder) error {
	if err := enc.WriteRaw(m.Key); err != nil {
		return err
	}
	if err := enc.WriteU64(m.SubID); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(m.DesiredState)); err != nil {
		return err
	}
	if m.HasTimestamp {
		if err := enc.WriteU8(1); err != nil {
			return err
		}
		return enc.WriteU64(m.SendTimestamp)
	}
	return enc.WriteU8(0)
}

func (m *CbState) Decode(dec *wire.Decoder) error {
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

	state, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.DesiredState = LockState(state)

	hasTS, err := dec.ReadU8()
	if err != nil {
		return err
	}
	if hasTS != 0 {
		ts, err := dec.ReadU64()
		if err != nil {
			return err
		}
		m.SendTimestamp = ts
		m.HasTimestamp = true
	}
	return nil
}

// CbDropAll is lock_cb_dropall: an empty-bodied broadcast asking clients
// to evict cached locks. No component in this repository originates it:
// a master never sends one, and LTPX forwards one it receives from a
// master to every local client.
type CbDropAll struct{}

func (m *CbDropAll) Opcode() Opcode { return OpLockCbDropAll }

func (m *CbDropAll) Encode(enc *wire.Encoder) error { return nil }

func (m *CbDropAll) Decode(dec *wire.Decoder) error { return nil }

// DropExp is lock_drop_exp{string name, raw key-prefix-mask}, sent by a
// client to clear an expired holder's blocking entries for the given
// name. Keys are opaque to LTPX, so the proxy fans a copy out to every
// shard master rather than pick one.
type DropExp struct {
	Name          string
	KeyPrefixMask []byte
}

func (m *DropExp) Opcode() Opcode { return OpLockDropExp }

func (m *DropExp) Encode(enc *wire.Encoder) error {
	if err := enc.WriteString(m.Name); err != nil {
		return err
	}
	return enc.WriteRaw(m.KeyPrefixMask)
}

func (m *DropExp) Decode(dec *wire.Decoder) error {
	name, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Name = name

	mask, err := dec.ReadRaw()
	if err != nil {
		return err
	}
	m.KeyPrefixMask = mask
	return nil
}
