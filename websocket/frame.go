package websocket

import (
	"encoding/binary"
	"io"
)

// Maximum control-frame payload permitted by RFC 6455 Section 5.5.
const maxControlPayload = 125

// Payload-length encoding thresholds (RFC 6455 Section 5.2): 0-125 fit in
// the 7-bit field; 126 signals a following 16-bit length; 127 signals a
// following 64-bit length.
const (
	lenCode16 = 126
	lenCode64 = 127
)

// frameHeader is the decoded form of a frame's fixed-size header, before
// its payload has been read. It is produced by decodeHeader, a pure
// function over a byte slice — the header/payload split lets the parser
// accumulate exactly frameHeaderLen(b1) bytes before calling it, so
// decodeHeader itself never has to deal with a short buffer.
type frameHeader struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           byte
	masked           bool
	payloadLen       uint64
	maskKey          [4]byte
}

// frameHeaderLen returns the total number of header bytes (fixed 2 +
// extended length + mask key) implied by the first two header bytes,
// i.e. how many bytes a caller must accumulate before decodeHeader can
// run. It never needs to inspect the payload.
func frameHeaderLen(b1 byte) int {
	n := 2
	switch b1 & 0x7f {
	case lenCode16:
		n += 2
	case lenCode64:
		n += 8
	}
	if b1&0x80 != 0 {
		n += 4
	}
	return n
}

// decodeHeader parses a complete header — exactly frameHeaderLen(buf[1])
// bytes — into a frameHeader. It performs only the validations that
// depend solely on the header bytes themselves (reserved high bit of a
// 64-bit length, and the bounds checks below); opcode, masking-policy,
// and control-frame invariants are the parser's responsibility since they
// depend on connection role and in-progress message state.
//
// The parser always accumulates frameHeaderLen(buf[1]) bytes before
// calling decodeHeader (spec.md §9's "buffer and resume" choice over the
// reference's abort-on-short-chunk behavior), so the bounds checks below
// are defensive rather than reachable in normal operation; they exist so
// a misbehaving caller gets one of the spec's named errors instead of a
// slice-bounds panic.
func decodeHeader(buf []byte) (frameHeader, error) {
	if len(buf) < 2 {
		return frameHeader{}, ErrInvalidDataFrameH2
	}

	h := frameHeader{
		fin:    buf[0]&0x80 != 0,
		rsv1:   buf[0]&0x40 != 0,
		rsv2:   buf[0]&0x20 != 0,
		rsv3:   buf[0]&0x10 != 0,
		opcode: buf[0] & 0x0f,
		masked: buf[1]&0x80 != 0,
	}

	lenCode := buf[1] & 0x7f
	rest := buf[2:]
	switch lenCode {
	case lenCode16:
		if len(rest) < 2 {
			return frameHeader{}, ErrInvalidDataFrameP16
		}
		h.payloadLen = uint64(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
	case lenCode64:
		if len(rest) < 8 {
			return frameHeader{}, ErrInvalidDataFrameP64
		}
		h.payloadLen = binary.BigEndian.Uint64(rest[:8])
		if h.payloadLen&(1<<63) != 0 {
			return frameHeader{}, ErrInvalidDataFrameP64
		}
		rest = rest[8:]
	default:
		h.payloadLen = uint64(lenCode)
	}

	if h.masked {
		if len(rest) < 4 {
			return frameHeader{}, ErrMaskingKeyMissing
		}
		copy(h.maskKey[:], rest[:4])
	}

	return h, nil
}

// encodeHeader appends the wire encoding of a frame header (FIN/RSV/
// opcode/MASK/length, plus extended length and mask key if present) to
// dst and returns the grown slice. Stateless: does not touch payload.
func encodeHeader(dst []byte, opcode byte, payloadLen int, masked bool, maskKey [4]byte) []byte {
	b0 := byte(0x80) | (opcode & 0x0f) // FIN always set: this engine never emits fragmented frames.
	var b1 byte
	if masked {
		b1 = 0x80
	}

	switch {
	case payloadLen < lenCode16:
		dst = append(dst, b0, b1|byte(payloadLen))
	case payloadLen <= 0xffff:
		dst = append(dst, b0, b1|lenCode16)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(payloadLen))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, b0, b1|lenCode64)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(payloadLen))
		dst = append(dst, ext[:]...)
	}

	if masked {
		dst = append(dst, maskKey[:]...)
	}
	return dst
}

// EncodeFrame serializes a single, unfragmented application frame
// (opcode, payload) to wire bytes. FIN is always set — this engine never
// produces fragmented outbound frames (spec.md §4.1). When masked is
// true, a fresh masking key is read from rnd (4 bytes) and the payload is
// masked into a copy; the caller's payload slice is never mutated.
func EncodeFrame(opcode byte, payload []byte, masked bool, rnd io.Reader) ([]byte, error) {
	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(rnd, maskKey[:]); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, 14+len(payload))
	out = encodeHeader(out, opcode, len(payload), masked, maskKey)

	if len(payload) == 0 {
		return out, nil
	}

	body := payload
	if masked {
		body = make([]byte, len(payload))
		copy(body, payload)
		maskBytes(body, maskKey, 0)
	}
	return append(out, body...), nil
}

// encodeControlFrame is like EncodeFrame but, when masked, uses a fixed
// all-zero masking key instead of reading one from a random source and
// never fails; it builds the precomputed ping/pong constants in
// frameconsts.go.
func encodeControlFrame(opcode byte, payload []byte, masked bool) []byte {
	var maskKey [4]byte // all-zero key: legal per RFC 6455, a no-op XOR on empty/short control payloads.
	out := make([]byte, 0, 14+len(payload))
	out = encodeHeader(out, opcode, len(payload), masked, maskKey)
	if len(payload) == 0 {
		return out
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	maskBytes(body, maskKey, 0)
	return append(out, body...)
}

// encodeCloseFrame builds an unfragmented close frame whose payload is the
// canonical RFC 6455 two-byte big-endian status code followed by an
// optional UTF-8 reason. This resolves spec.md §9's open question in
// favor of the canonical form over the reference's decimal-ASCII
// encoding.
func encodeCloseFrame(code CloseCode, reason string, masked bool, rnd io.Reader) ([]byte, error) {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)
	return EncodeFrame(OpClose, payload, masked, rnd)
}

// decodeCloseCode extracts the status code from a received close frame's
// payload, per the same canonical two-byte encoding. A payload shorter
// than 2 bytes means no status code was sent (RFC 6455 Section 7.1.5).
func decodeCloseCode(payload []byte) CloseCode {
	if len(payload) < 2 {
		return CloseNoStatusReceived
	}
	return CloseCode(binary.BigEndian.Uint16(payload[:2]))
}
