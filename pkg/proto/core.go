package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// CoreMbrUpdt is core_mbr_updt, an inbound single-member join/leave
// notification from the Core collaborator driving the role state
// machine.
type CoreMbrUpdt struct {
	NodeID   uint32
	NodeName string
	Joined   bool
}

func (m *CoreMbrUpdt) Opcode() Opcode { return OpCoreMbrUpdt }

func (m *CoreMbrUpdt) Encode(enc *wire.Encoder) error {
	if err := enc.WriteU32(m.NodeID); err != nil {
		return err
	}
	if err := enc.WriteString(m.NodeName); err != nil {
		return err
	}
	joined := uint8(0)
	if m.Joined {
		joined = 1
	}
	return enc.WriteU8(joined)
}

func (m *CoreMbrUpdt) Decode(dec *wire.Decoder) error {
	id, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.NodeID = id

	name, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.NodeName = name

	joined, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.Joined = joined != 0
	return nil
}

// CoreStateChgs is core_state_chgs, a cluster-wide transition event
// (recovery start/finish) carrying the new membership generation and this
// node's role as assigned by Core. Role assignment is an external
// decision the lock table never computes itself; this node only ever
// adopts the role Core hands it.
type CoreStateChgs struct {
	Generation uint32
	Event      uint8
	NewRole    Role
}

const (
	CoreEventRecoveryStart uint8 = iota
	CoreEventRecoveryFinish
)

func (m *CoreStateChgs) Opcode() Opcode { return OpCoreStateChgs }

func (m *CoreStateChgs) Encode(enc *wire.Encoder) error {
	if err := enc.WriteU32(m.Generation); err != nil {
		return err
	}
	if err := enc.WriteU8(m.Event); err != nil {
		return err
	}
	return enc.WriteU8(uint8(m.NewRole))
}

func (m *CoreStateChgs) Decode(dec *wire.Decoder) error {
	gen, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Generation = gen

	ev, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.Event = ev

	role, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.NewRole = Role(role)
	return nil
}

// MemberInfo is one entry of a CoreMbrLstRpl.
type MemberInfo struct {
	NodeID   uint32
	NodeName string
}

// CoreMbrLstRpl is core_mbr_lstrpl: the full membership list sent on
// (re)connect to the Core collaborator; it replaces the member list used
// to admit slave logins.
type CoreMbrLstRpl struct {
	Generation uint32
	Members    []MemberInfo
}

func (m *CoreMbrLstRpl) Opcode() Opcode { return OpCoreMbrLstRpl }

func (m *CoreMbrLstRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteU32(m.Generation); err != nil {
		return err
	}
	if err := enc.WriteListStart(); err != nil {
		return err
	}
	for _, mem := range m.Members {
		if err := enc.WriteU32(mem.NodeID); err != nil {
			return err
		}
		if err := enc.WriteString(mem.NodeName); err != nil {
			return err
		}
	}
	return enc.WriteListStop()
}

func (m *CoreMbrLstRpl) Decode(dec *wire.Decoder) error {
	gen, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Generation = gen

	if err := dec.ReadListStart(); err != nil {
		return err
	}
	m.Members = nil
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			return err
		}
		if stop {
			break
		}
		id, err := dec.ReadU32()
		if err != nil {
			return err
		}
		name, err := dec.ReadString()
		if err != nil {
			return err
		}
		m.Members = append(m.Members, MemberInfo{NodeID: id, NodeName: name})
	}
	return dec.ReadListStop()
}
