// Package proto defines the wire opcode message schemas: every message
// begins with a u32 opcode, followed by a fixed, frozen sequence of
// wire.Encoder/Decoder primitives. Message boundaries are implicit in
// the per-opcode schema; there is no outer length prefix.
package proto

import "github.com/clusterlockd/ltd/pkg/wire"

// Opcode identifies the schema of the message that follows it on the wire.
type Opcode uint32

const (
	OpLockLoginReq Opcode = iota + 1
	OpLockLoginRpl
	OpLockStateReq
	OpLockStateRpl
	OpLockStateUpdt
	OpLockUpdateRpl
	OpLockActionReq
	OpLockActionRpl
	OpLockActionUpdt
	OpLockCbState
	OpLockCbDropAll
	OpLockDropExp
	OpLockQueryReq
	OpLockQueryRpl
	OpCoreMbrUpdt
	OpCoreStateChgs
	OpCoreMbrLstRpl
	OpInfoStatsReq
	OpInfoStatsRpl
	OpInfoSlaveListReq
	OpInfoSlaveListRpl
	OpInfoSetVerbosity
	OpLockDumpReq
	OpLockDumpRpl
	OpLockRerunQueues
	OpSocketClose
)

func (o Opcode) String() string {
	switch o {
	case OpLockLoginReq:
		return "lock_login_req"
	case OpLockLoginRpl:
		return "lock_login_rpl"
	case OpLockStateReq:
		return "lock_state_req"
	case OpLockStateRpl:
		return "lock_state_rpl"
	case OpLockStateUpdt:
		return "lock_state_updt"
	case OpLockUpdateRpl:
		return "lock_update_rpl"
	case OpLockActionReq:
		return "lock_action_req"
	case OpLockActionRpl:
		return "lock_action_rpl"
	case OpLockActionUpdt:
		return "lock_action_updt"
	case OpLockCbState:
		return "lock_cb_state"
	case OpLockCbDropAll:
		return "lock_cb_dropall"
	case OpLockDropExp:
		return "lock_drop_exp"
	case OpLockQueryReq:
		return "lock_query_req"
	case OpLockQueryRpl:
		return "lock_query_rpl"
	case OpCoreMbrUpdt:
		return "core_mbr_updt"
	case OpCoreStateChgs:
		return "core_state_chgs"
	case OpCoreMbrLstRpl:
		return "core_mbr_lstrpl"
	case OpInfoStatsReq:
		return "info_stats_req"
	case OpInfoStatsRpl:
		return "info_stats_rpl"
	case OpInfoSlaveListReq:
		return "info_slave_list_req"
	case OpInfoSlaveListRpl:
		return "info_slave_list_rpl"
	case OpInfoSetVerbosity:
		return "info_set_verbosity"
	case OpLockDumpReq:
		return "lock_dump_req"
	case OpLockDumpRpl:
		return "lock_dump_rpl"
	case OpLockRerunQueues:
		return "lock_rerunqueues"
	case OpSocketClose:
		return "socket_close"
	default:
		return "unknown_opcode"
	}
}

// WriteOpcode writes the leading u32 opcode of a message.
func WriteOpcode(enc *wire.Encoder, op Opcode) error {
	return enc.WriteU32(uint32(op))
}

// ReadOpcode reads the leading u32 opcode of a message.
func ReadOpcode(dec *wire.Decoder) (Opcode, error) {
	v, err := dec.ReadU32()
	return Opcode(v), err
}

// Message is implemented by every wire message schema in this package.
type Message interface {
	Opcode() Opcode
	Encode(enc *wire.Encoder) error
	Decode(dec *wire.Decoder) error
}

// WriteMessage writes a message's opcode followed by its body.
func WriteMessage(enc *wire.Encoder, m Message) error {
	if err := WriteOpcode(enc, m.Opcode()); err != nil {
		return err
	}
	return m.Encode(enc)
}
