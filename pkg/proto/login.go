package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// LoginReq is lock_login_req{u32 proto_version, string name, u8 role,
// raw lockspace_prefix}. The trailing prefix mask is only meaningful for
// an LTPX client login (callback fan-out filtering); a nil/empty
// mask means "match everything" and is what every non-LTPX-facing login
// sends.
type LoginReq struct {
	ProtoVersion    uint32
	Name            string
	Role            Role
	LockspacePrefix []byte
}

func (m *LoginReq) Opcode() Opcode { return OpLockLoginReq }

func (m *LoginReq) Encode(enc *wire.Encoder) error {
	if err := enc.WriteU32(m.ProtoVersion); err != nil {
		return err
	}
	if err := enc.WriteString(m.Name); err != nil {
		return err
	}
	if err := enc.WriteU8(uint8(m.Role)); err != nil {
		return err
	}
	return enc.WriteRaw(m.LockspacePrefix)
}

func (m *LoginReq) Decode(dec *wire.Decoder) error {
	v, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.ProtoVersion = v

	name, err := dec.ReadString()
	if err != nil {
		return err
	}
	m.Name = name

	role, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.Role = Role(role)

	prefix, err := dec.ReadRaw()
	if err != nil {
		return err
	}
	if len(prefix) > 0 {
		m.LockspacePrefix = prefix
	}
	return nil
}

// LoginRpl is lock_login_rpl{u32 err, u8 role}.
type LoginRpl struct {
	Err  uint32
	Role Role
}

func (m *LoginRpl) Opcode() Opcode { return OpLockLoginRpl }

func (m *LoginRpl) Encode(enc *wire.Encoder) error {
	if err := enc.WriteU32(m.Err); err != nil {
		return err
	}
	return enc.WriteU8(uint8(m.Role))
}

func (m *LoginRpl) Decode(dec *wire.Decoder) error {
	e, err := dec.ReadU32()
	if err != nil {
		return err
	}
	m.Err = e

	role, err := dec.ReadU8()
	if err != nil {
		return err
	}
	m.Role = Role(role)
	return nil
}
