// File: protocol/frame_codec.go
// License: Apache-2.0
//
// Frame encoding and single-buffer decoding. The streaming decoder used by
// connections lives in decoder.go.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrShortFrame is returned by DecodeFrameFromBytes when raw does not hold
// a complete frame.
var ErrShortFrame = errors.New("protocol: incomplete frame")

// Frame is one physical WebSocket frame. Payload is always unmasked.
type Frame struct {
	Fin     bool
	Rsv1    bool
	Rsv2    bool
	Rsv3    bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// AppendTo encodes f onto dst, masking the payload with f.Mask when
// f.Masked is set.
func (f *Frame) AppendTo(dst []byte) []byte {
	b0 := byte(f.Opcode) & 0x0F
	if f.Fin {
		b0 |= FinBit
	}
	if f.Rsv1 {
		b0 |= Rsv1Bit
	}
	if f.Rsv2 {
		b0 |= Rsv2Bit
	}
	if f.Rsv3 {
		b0 |= Rsv3Bit
	}
	var b1 byte
	if f.Masked {
		b1 = MaskBit
	}

	plen := len(f.Payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, b1|byte(plen))
	case plen <= 0xFFFF:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}
	dst = append(dst, f.Mask[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	MaskBytes(f.Mask, 0, dst[start:])
	return dst
}

// AppendFrame appends one unfragmented frame. Masked frames get a fresh
// random key.
func AppendFrame(dst []byte, op Opcode, payload []byte, masked bool) []byte {
	f := Frame{Fin: true, Opcode: op, Masked: masked, Payload: payload}
	if masked {
		f.Mask = newMaskKey()
	}
	return f.AppendTo(dst)
}

// EncodeFrame builds one unfragmented frame as the given role sends it.
func EncodeFrame(op Opcode, payload []byte, role Role) []byte {
	buf := make([]byte, 0, MaxFrameHeaderLen+len(payload))
	return AppendFrame(buf, op, payload, role == RoleClient)
}

func newMaskKey() [4]byte {
	var key [4]byte
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(key[:])
	return key
}

// MaskBytes XORs b in place with key starting at key index pos and returns
// the index to continue from.
func MaskBytes(key [4]byte, pos int, b []byte) int {
	for i := range b {
		b[i] ^= key[(pos+i)&3]
	}
	return (pos + len(b)) & 3
}

// DecodeFrameFromBytes parses the frame at the start of raw and reports how
// many bytes it occupied. No protocol rules are applied beyond framing.
func DecodeFrameFromBytes(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, ErrShortFrame
	}
	f := &Frame{
		Fin:    raw[0]&FinBit != 0,
		Rsv1:   raw[0]&Rsv1Bit != 0,
		Rsv2:   raw[0]&Rsv2Bit != 0,
		Rsv3:   raw[0]&Rsv3Bit != 0,
		Opcode: Opcode(raw[0] & 0x0F),
		Masked: raw[1]&MaskBit != 0,
	}
	length := uint64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, ErrShortFrame
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, ErrShortFrame
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	if f.Masked {
		if len(raw) < offset+4 {
			return nil, 0, ErrShortFrame
		}
		copy(f.Mask[:], raw[offset:offset+4])
		offset += 4
	}

	if uint64(len(raw)-offset) < length {
		return nil, 0, ErrShortFrame
	}
	end := offset + int(length)
	f.Payload = append([]byte(nil), raw[offset:end]...)
	if f.Masked {
		MaskBytes(f.Mask, 0, f.Payload)
	}
	return f, end, nil
}
