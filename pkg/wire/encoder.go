package wire

import (
	"encoding/binary"
	"io"

	"github.com/clusterlockd/ltd/internal/bufpool"
)

// maxBlobLen is the largest payload a string/raw datum can carry: its
// length prefix is a u16.
const maxBlobLen = 1<<16 - 1

// Encoder buffers outgoing datums and flushes them to an io.Writer (a TCP
// connection in production, anything in tests) in one Write call per
// flush. It is not safe for concurrent use; callers serialize writes to a
// connection's encoder themselves (the reactor does this with a
// per-connection write mutex).
type Encoder struct {
	w         io.Writer
	buf       []byte
	maxBuffer int
}

// NewEncoder returns an Encoder that flushes automatically once its
// buffered bytes reach maxBuffer. A maxBuffer of 0 disables automatic
// flushing; the caller must call Flush explicitly.
func NewEncoder(w io.Writer, maxBuffer int) *Encoder {
	return &Encoder{
		w:         w,
		buf:       bufpool.Get(0),
		maxBuffer: maxBuffer,
	}
}

func (e *Encoder) append(b []byte) error {
	if e == nil {
		return ErrInvalidArgument
	}
	e.buf = append(e.buf, b...)
	if e.maxBuffer > 0 && len(e.buf) >= e.maxBuffer {
		return e.Flush()
	}
	return nil
}

// WriteListStart writes a list-start bracket.
func (e *Encoder) WriteListStart() error {
	return e.append([]byte{byte(TagListStart)})
}

// WriteListStop writes a list-stop bracket.
func (e *Encoder) WriteListStop() error {
	return e.append([]byte{byte(TagListStop)})
}

// WriteU8 writes a tagged 8-bit unsigned integer.
func (e *Encoder) WriteU8(v uint8) error {
	return e.append([]byte{byte(TagU8), v})
}

// WriteU16 writes a tagged, big-endian 16-bit unsigned integer.
func (e *Encoder) WriteU16(v uint16) error {
	b := make([]byte, 3)
	b[0] = byte(TagU16)
	binary.BigEndian.PutUint16(b[1:], v)
	return e.append(b)
}

// WriteU32 writes a tagged, big-endian 32-bit unsigned integer.
func (e *Encoder) WriteU32(v uint32) error {
	b := make([]byte, 5)
	b[0] = byte(TagU32)
	binary.BigEndian.PutUint32(b[1:], v)
	return e.append(b)
}

// WriteU64 writes a tagged, big-endian 64-bit unsigned integer.
func (e *Encoder) WriteU64(v uint64) error {
	b := make([]byte, 9)
	b[0] = byte(TagU64)
	binary.BigEndian.PutUint64(b[1:], v)
	return e.append(b)
}

// WriteIPv6 writes a tagged 16-byte IPv6 address.
func (e *Encoder) WriteIPv6(addr [16]byte) error {
	b := make([]byte, 0, 17)
	b = append(b, byte(TagIPv6))
	b = append(b, addr[:]...)
	return e.append(b)
}

// WriteString writes a tagged string: u16 length followed by raw UTF-8
// bytes (no NUL terminator).
func (e *Encoder) WriteString(s string) error {
	if len(s) > maxBlobLen {
		return ErrInvalidArgument
	}
	b := make([]byte, 0, 3+len(s))
	b = append(b, byte(TagString))
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	b = append(b, s...)
	return e.append(b)
}

// WriteRaw writes a tagged raw byte blob: u16 length followed by bytes.
// Used for opaque lock keys and LVBs.
func (e *Encoder) WriteRaw(data []byte) error {
	if len(data) > maxBlobLen {
		return ErrInvalidArgument
	}
	b := make([]byte, 0, 3+len(data))
	b = append(b, byte(TagRaw))
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	b = append(b, data...)
	return e.append(b)
}

// WriteBytes appends raw bytes with no type tag and no length prefix. It
// is used by higher-level opcode schemas (lockspace serialization)
// that roll their own length fields out of WriteU8/WriteU32 rather than
// using the self-describing WriteRaw/WriteString framing.
func (e *Encoder) WriteBytes(data []byte) error {
	return e.append(data)
}

// Flush writes all buffered bytes to the underlying writer in one Write
// call, retrying on short writes, and resets the buffer for reuse.
func (e *Encoder) Flush() error {
	if e == nil {
		return ErrInvalidArgument
	}
	if len(e.buf) == 0 {
		return nil
	}
	written := 0
	for written < len(e.buf) {
		n, err := e.w.Write(e.buf[written:])
		if err != nil {
			e.buf = e.buf[:0]
			return err
		}
		written += n
	}
	e.buf = e.buf[:0]
	return nil
}

// Release flushes any pending bytes and returns the encoder's buffer to
// the pool. The encoder must not be used afterward.
func (e *Encoder) Release() error {
	if e == nil {
		return ErrInvalidArgument
	}
	err := e.Flush()
	bufpool.Put(e.buf)
	e.buf = nil
	return err
}

// ForceRelease discards any unflushed bytes and returns the buffer to the
// pool without attempting a write. Used when the underlying connection is
// already known to be dead.
func (e *Encoder) ForceRelease() {
	if e == nil {
		return
	}
	bufpool.Put(e.buf)
	e.buf = nil
}

// Len reports the number of unflushed bytes currently buffered.
func (e *Encoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.buf)
}
