// Package protocol implements the framed wire format shared by the helper
// and the client: length-prefixed UTF-16BE string frames and fixed-size
// progress tuples. Every multi-byte integer is big-endian.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// ProtocolVersion is the fixed serializer version both sides must agree on.
// Any change to the wire format is a breaking protocol change.
const ProtocolVersion byte = 0x01

// Kind identifies the subject of a progress frame.
type Kind int32

const (
	KindDownload Kind = 1
	KindVerify   Kind = 2
	KindWrite    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindDownload:
		return "download"
	case KindVerify:
		return "verify"
	case KindWrite:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// Well-known string tokens exchanged during handshake and command dispatch.
const (
	TokenHello   = "HELLO"
	TokenReady   = "READY"
	TokenSuccess = "SUCCESS"
	TokenFailure = "FAILURE"
)

// ErrIncomplete is returned by DecodeString and DecodeProgress when the buffer does not yet hold a
// full frame. Callers must wait for more bytes and retry; the buffer is
// left untouched (no partial consumption).
var ErrIncomplete = errors.New("protocol: incomplete frame")

// ErrUndecodable marks a prefix that can never become a valid frame
// regardless of how many more bytes arrive. Per spec this moves the
// owning state machine to Error; it is never silently skipped.
var ErrUndecodable = errors.New("protocol: undecodable frame")

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Frame is the decoded union of the two wire shapes.
type Frame struct {
	IsString bool
	String   string

	Kind  Kind
	Now   int64
	Total int64
}

func StringFrame(s string) Frame { return Frame{IsString: true, String: s} }

func ProgressFrame(kind Kind, now, total int64) Frame {
	return Frame{IsString: false, Kind: kind, Now: now, Total: total}
}

// EncodeString produces the wire bytes for a string frame:
// u32 length_in_bytes | UTF-16BE bytes.
func EncodeString(s string) ([]byte, error) {
	enc := utf16BE.NewEncoder()
	payload, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("protocol: encode utf16: %w", err)
	}
	buf := make([]byte, 4+len(payload))
	putU32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// EncodeProgress produces the wire bytes for a progress frame:
// i32 kind | i64 now | i64 total.
func EncodeProgress(kind Kind, now, total int64) []byte {
	buf := make([]byte, 4+8+8)
	putU32(buf[0:4], uint32(int32(kind)))
	putU64(buf[4:12], uint64(now))
	putU64(buf[12:20], uint64(total))
	return buf
}

// progressFrameLen is the fixed wire length of a progress frame.
const progressFrameLen = 4 + 8 + 8

// DecodeString and DecodeProgress each attempt to decode exactly one
// frame from the head of buf.
//
// Frames are shape-ambiguous on the wire (both begin with a 4-byte
// big-endian integer), so the caller must know which shape it expects
// next: DecodeString for handshake/command/status tokens, DecodeProgress
// for progress tuples. Both speculatively read the prefix and roll back
// (return ErrIncomplete without mutating buf) if not enough bytes are
// available yet.
func DecodeString(buf []byte) (s string, consumed int, err error) {
	if len(buf) < 4 {
		return "", 0, ErrIncomplete
	}
	n := getU32(buf[0:4])
	if n > 64*1024*1024 {
		return "", 0, fmt.Errorf("%w: implausible string length %d", ErrUndecodable, n)
	}
	total := 4 + int(n)
	if len(buf) < total {
		return "", 0, ErrIncomplete
	}
	dec := utf16BE.NewDecoder()
	out, err := dec.Bytes(buf[4:total])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return string(out), total, nil
}

func DecodeProgress(buf []byte) (p Frame, consumed int, err error) {
	if len(buf) < progressFrameLen {
		return Frame{}, 0, ErrIncomplete
	}
	kind := int32(getU32(buf[0:4]))
	now := int64(getU64(buf[4:12]))
	total := int64(getU64(buf[12:20]))
	return ProgressFrame(Kind(kind), now, total), progressFrameLen, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// DuplicateKey identifies a progress frame for the reporter's duplicate
// suppression: frames with an identical (kind, now) to the previously
// sent frame are never retransmitted.
type DuplicateKey struct {
	Kind Kind
	Now  int64
}

func KeyOf(kind Kind, now int64) DuplicateKey { return DuplicateKey{Kind: kind, Now: now} }

// Equal reports whether two string frame encodings carry the same payload,
// comparing bytes without re-decoding.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
