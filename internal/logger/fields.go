package logger

// Standard field keys for structured logging across ltd, ltpx, and ltctl.
// Use these consistently so log lines can be aggregated and queried by key.
const (
	// Distributed tracing.
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection / identity.
	KeyClientName = "client"     // client-declared name from lock_login_req
	KeyClientIP   = "client_ip"  // remote TCP address
	KeyRole       = "role"       // pending, master, slave, arbitrating
	KeyConnID     = "conn_id"    // internal connection identifier

	// Lock table.
	KeyKey      = "key"       // lock key (hex-encoded)
	KeyState    = "state"     // unl, shd, dfr, exl
	KeyOp       = "op"        // state | action
	KeySubID    = "subid"     // sub-holder id
	KeyFlags    = "flags"     // request flags bitmask
	KeyErr      = "err"       // wire error code
	KeyLVBLen   = "lvb_len"   // LVB length in bytes

	// Replication.
	KeyShard       = "shard"        // LTPX/master shard index
	KeySlave       = "slave"        // slave name
	KeySlaveMask   = "slave_mask"   // Slave_bitmask / Slave_sent / Slave_rpls
	KeyHolderCount = "holder_count"

	// Operation metadata.
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"
	KeyAttempt    = "attempt"
)
