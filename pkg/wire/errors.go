package wire

import "errors"

// ErrInvalidArgument is returned when an encoder/decoder method is called
// with a nil receiver or out-of-range argument (e.g. a key/LVB/string
// longer than its wire-format length prefix allows).
var ErrInvalidArgument = errors.New("wire: invalid argument")

// ErrOutOfMemory names the encoder's out-of-memory failure. No function in
// this package returns it: the buffer grows with append, which does not
// report failure.
var ErrOutOfMemory = errors.New("wire: out of memory")

// ErrNoMessage is returned by a decoder's typed read when the next tag on
// the wire does not match the type the caller asked for. The lookahead
// byte is preserved so the caller (or a different typed reader) can retry.
var ErrNoMessage = errors.New("wire: no message of requested type")

// ErrProtocol is returned when a short read violates framing: fewer bytes
// were available than the tag's payload declared.
var ErrProtocol = errors.New("wire: protocol framing violation")
