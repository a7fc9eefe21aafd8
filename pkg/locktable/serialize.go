package locktable

import (
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/wire"
)

// DumpSnapshot serializes the entire lockspace in wire order, used
// to transfer state to a newly attached slave. Queues and the reply-waiter
// are deliberately omitted; clients retry in-flight requests against the
// new slave once it is promoted.
func (t *Table) DumpSnapshot(enc *wire.Encoder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := enc.WriteListStart(); err != nil {
		return err
	}
	for _, l := range t.byKey {
		if err := writeLockSnapshot(enc, l); err != nil {
			return err
		}
	}
	return enc.WriteListStop()
}

func writeLockSnapshot(enc *wire.Encoder, l *Lock) error {
	if err := enc.WriteU8(uint8(len(l.Key))); err != nil {
		return err
	}
	if err := enc.WriteBytes(l.Key); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(l.State)); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(len(l.LVB))); err != nil {
		return err
	}
	if len(l.LVB) > 0 {
		if err := enc.WriteBytes(l.LVB); err != nil {
			return err
		}
	}
	if err := writeNameList(enc, l.Holders); err != nil {
		return err
	}
	if err := writeNameList(enc, l.LVBHolders); err != nil {
		return err
	}
	if err := writeNameList(enc, l.ExpiredHolders); err != nil {
		return err
	}
	return nil
}

func writeNameList(enc *wire.Encoder, holders []*Holder) error {
	if err := enc.WriteU32(uint32(len(holders))); err != nil {
		return err
	}
	if err := enc.WriteListStart(); err != nil {
		return err
	}
	for _, h := range holders {
		if err := enc.WriteString(h.Name); err != nil {
			return err
		}
	}
	return enc.WriteListStop()
}

// LoadSnapshot replaces the table's lockspace with one deserialized from a
// peer's DumpSnapshot, per the slave-attach procedure.
func (t *Table) LoadSnapshot(dec *wire.Decoder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byKey = make(map[string]*Lock)

	if err := dec.ReadListStart(); err != nil {
		return err
	}
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			return err
		}
		if stop {
			break
		}
		l, err := readLockSnapshot(dec)
		if err != nil {
			return err
		}
		t.byKey[string(l.Key)] = l
	}
	return dec.ReadListStop()
}

func readLockSnapshot(dec *wire.Decoder) (*Lock, error) {
	keylen, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	key, err := dec.ReadBytes(int(keylen))
	if err != nil {
		return nil, err
	}
	l := newLock(key)

	state, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	l.State = proto.LockState(state)

	lvblen, err := dec.ReadU8()
	if err != nil {
		return nil, err
	}
	if lvblen > 0 {
		lvb, err := dec.ReadBytes(int(lvblen))
		if err != nil {
			return nil, err
		}
		l.LVB = lvb
	}

	l.Holders, err = readNameList(dec)
	if err != nil {
		return nil, err
	}
	l.LVBHolders, err = readNameList(dec)
	if err != nil {
		return nil, err
	}
	l.ExpiredHolders, err = readNameList(dec)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func readNameList(dec *wire.Decoder) ([]*Holder, error) {
	count, err := dec.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := dec.ReadListStart(); err != nil {
		return nil, err
	}
	holders := make([]*Holder, 0, count)
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
		name, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		holders = append(holders, &Holder{Name: name})
	}
	if err := dec.ReadListStop(); err != nil {
		return nil, err
	}
	return holders, nil
}
