package wire

import (
	"bytes"
	"testing"
)

func TestRoundTrip_ScalarTypes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 0)

	if err := enc.WriteU8(0xAB); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if err := enc.WriteU16(0xBEEF); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if err := enc.WriteU32(0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := enc.WriteU64(0x0123456789ABCDEF); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if err := enc.WriteString("hello lock table"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := enc.WriteRaw([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	addr := [16]byte{0: 0x20, 1: 0x01, 15: 0x01}
	if err := enc.WriteIPv6(addr); err != nil {
		t.Fatalf("WriteIPv6: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dec := NewDecoder(&buf)

	if v, err := dec.ReadU8(); err != nil || v != 0xAB {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := dec.ReadU16(); err != nil || v != 0xBEEF {
		t.Fatalf("ReadU16 = %v, %v", v, err)
	}
	if v, err := dec.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := dec.ReadU64(); err != nil || v != 0x0123456789ABCDEF {
		t.Fatalf("ReadU64 = %v, %v", v, err)
	}
	if s, err := dec.ReadString(); err != nil || s != "hello lock table" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if b, err := dec.ReadRaw(); err != nil || !bytes.Equal(b, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("ReadRaw = %v, %v", b, err)
	}
	if got, err := dec.ReadIPv6(); err != nil || got != addr {
		t.Fatalf("ReadIPv6 = %v, %v", got, err)
	}
}

func TestListBrackets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 0)
	_ = enc.WriteListStart()
	_ = enc.WriteString("a")
	_ = enc.WriteString("b")
	_ = enc.WriteListStop()
	_ = enc.Flush()

	dec := NewDecoder(&buf)
	if err := dec.ReadListStart(); err != nil {
		t.Fatalf("ReadListStart: %v", err)
	}

	var got []string
	for {
		stop, err := dec.PeekIsListStop()
		if err != nil {
			t.Fatalf("PeekIsListStop: %v", err)
		}
		if stop {
			break
		}
		s, err := dec.ReadString()
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		got = append(got, s)
	}
	if err := dec.ReadListStop(); err != nil {
		t.Fatalf("ReadListStop: %v", err)
	}

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list contents: %v", got)
	}
}

func TestDecoder_NoMessageOnTagMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 0)
	_ = enc.WriteU32(42)
	_ = enc.Flush()

	dec := NewDecoder(&buf)
	if _, err := dec.ReadU8(); err != ErrNoMessage {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}
	// The lookahead is preserved; asking for the right type succeeds.
	v, err := dec.ReadU32()
	if err != nil || v != 42 {
		t.Fatalf("ReadU32 after mismatch = %v, %v", v, err)
	}
}

func TestDecoder_ProtocolErrorOnShortRead(t *testing.T) {
	t.Parallel()

	// A u32 tag followed by only 2 bytes of payload: a framing violation.
	buf := bytes.NewReader([]byte{byte(TagU32), 0x00, 0x01})
	dec := NewDecoder(buf)
	if _, err := dec.ReadU32(); err != ErrProtocol {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestEncoder_RejectsOversizedBlob(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 0)
	big := make([]byte, maxBlobLen+1)
	if err := enc.WriteRaw(big); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEncoder_AutoFlushOnMaxBuffer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 4) // small threshold forces a flush on WriteU32
	if err := enc.WriteU32(7); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected auto-flush to have written bytes")
	}
}

func TestWriteBytesReadBytes_UntaggedRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf, 0)
	_ = enc.WriteU8(5)
	_ = enc.WriteBytes([]byte("hello"))
	_ = enc.Flush()

	dec := NewDecoder(&buf)
	n, err := dec.ReadU8()
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	got, err := dec.ReadBytes(int(n))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadBytes = %q", got)
	}
}
