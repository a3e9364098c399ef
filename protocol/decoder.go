// File: protocol/decoder.go
// License: Apache-2.0
//
// Streaming frame decoder. Bytes are fed as they arrive; each state
// consumes only what it needs and the remainder is carried to the next
// call.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-flux/api"
)

type decodeState int

const (
	stateHeader decodeState = iota
	stateExtended
	statePayload
)

// currentFrame is the physical frame being decoded.
type currentFrame struct {
	fin     bool
	opcode  Opcode
	masked  bool
	mask    [4]byte
	length  uint64
	read    uint64
	maskPos int
	extLen  int // bytes of extended length still to read, 0, 2 or 8
}

// EmitFunc receives a completed message or control frame. Returning an
// error stops decoding and makes Feed return that error.
type EmitFunc func(op Opcode, payload []byte) error

// Decoder reassembles messages from frames sent by the peer of the given
// local role.
type Decoder struct {
	role       Role
	maxMessage int

	state decodeState
	buf   []byte
	off   int
	cur   currentFrame

	inMessage bool
	msgOp     Opcode
	message   []byte
	control   []byte
	frames    int64
}

// NewDecoder creates a decoder for the local role. maxMessage limits a
// reassembled data message; zero means unlimited.
func NewDecoder(role Role, maxMessage int) *Decoder {
	return &Decoder{role: role, maxMessage: maxMessage}
}

// Frames returns the number of complete frames decoded.
func (d *Decoder) Frames() int64 { return d.frames }

// InMessage reports whether a fragmented message is being reassembled.
func (d *Decoder) InMessage() bool { return d.inMessage }

func violation(format string, args ...any) error {
	return &api.ProtocolError{Code: CloseProtocolError, Reason: fmt.Sprintf(format, args...)}
}

// Feed decodes as much of data, plus leftover from earlier calls, as
// possible. Malformed input yields a *api.ProtocolError with the close
// code to send; the decoder must not be fed again after that.
func (d *Decoder) Feed(data []byte, emit EmitFunc) error {
	d.buf = append(d.buf, data...)
	err := d.run(emit)
	d.buf = d.buf[:copy(d.buf, d.buf[d.off:])]
	d.off = 0
	return err
}

func (d *Decoder) pending() []byte { return d.buf[d.off:] }

func (d *Decoder) run(emit EmitFunc) error {
	for {
		switch d.state {
		case stateHeader:
			in := d.pending()
			if len(in) < 2 {
				return nil
			}
			d.off += 2
			if err := d.header(in[0], in[1]); err != nil {
				return err
			}

		case stateExtended:
			in := d.pending()
			need := d.cur.extLen
			if d.cur.masked {
				need += 4
			}
			if len(in) < need {
				return nil
			}
			switch d.cur.extLen {
			case 2:
				d.cur.length = uint64(binary.BigEndian.Uint16(in))
			case 8:
				d.cur.length = binary.BigEndian.Uint64(in)
				if d.cur.length>>63 != 0 {
					return violation("payload length has the most significant bit set")
				}
			}
			if d.cur.masked {
				copy(d.cur.mask[:], in[d.cur.extLen:need])
			}
			d.off += need
			if err := d.beginPayload(); err != nil {
				return err
			}

		case statePayload:
			in := d.pending()
			remaining := d.cur.length - d.cur.read
			n := uint64(len(in))
			if n > remaining {
				n = remaining
			}
			chunk := in[:n]
			d.off += int(n)
			d.cur.read += n
			if d.cur.opcode.IsControl() {
				start := len(d.control)
				d.control = append(d.control, chunk...)
				if d.cur.masked {
					d.cur.maskPos = MaskBytes(d.cur.mask, d.cur.maskPos, d.control[start:])
				}
			} else {
				start := len(d.message)
				d.message = append(d.message, chunk...)
				if d.cur.masked {
					d.cur.maskPos = MaskBytes(d.cur.mask, d.cur.maskPos, d.message[start:])
				}
			}
			if d.cur.read < d.cur.length {
				return nil
			}
			if err := d.finishFrame(emit); err != nil {
				return err
			}
		}
	}
}

func (d *Decoder) header(b0, b1 byte) error {
	d.cur = currentFrame{
		fin:    b0&FinBit != 0,
		opcode: Opcode(b0 & 0x0F),
		masked: b1&MaskBit != 0,
		length: uint64(b1 & 0x7F),
	}
	op := d.cur.opcode

	wantMasked := d.role == RoleServer
	if d.cur.masked != wantMasked {
		if wantMasked {
			return violation("unmasked frame from client")
		}
		return violation("masked frame from server")
	}
	if !op.known() {
		return violation("unknown opcode %#x", byte(op))
	}
	if op.IsControl() {
		if !d.cur.fin {
			return violation("fragmented %s frame", op)
		}
		if d.cur.length >= 126 {
			return violation("%s frame payload too long", op)
		}
	} else {
		if b0&(Rsv2Bit|Rsv3Bit) != 0 {
			return violation("reserved bits set")
		}
		if op == OpcodeContinuation && !d.inMessage {
			return violation("continuation without a message in progress")
		}
		if op != OpcodeContinuation && d.inMessage {
			return violation("new %s message while a message is in progress", op)
		}
	}

	switch d.cur.length {
	case 126:
		d.cur.extLen = 2
	case 127:
		d.cur.extLen = 8
	}
	if d.cur.extLen > 0 || d.cur.masked {
		if d.cur.extLen > 0 {
			d.cur.length = 0
		}
		d.state = stateExtended
		return nil
	}
	return d.beginPayload()
}

func (d *Decoder) beginPayload() error {
	if !d.cur.opcode.IsControl() {
		if d.cur.opcode != OpcodeContinuation {
			d.inMessage = true
			d.msgOp = d.cur.opcode
			d.message = nil
		}
		if d.maxMessage > 0 && uint64(len(d.message))+d.cur.length > uint64(d.maxMessage) {
			return &api.ProtocolError{Code: CloseMessageTooBig, Reason: "message too big"}
		}
	} else {
		d.control = d.control[:0]
	}
	d.state = statePayload
	return nil
}

func (d *Decoder) finishFrame(emit EmitFunc) error {
	d.frames++
	d.state = stateHeader
	if d.cur.opcode.IsControl() {
		payload := append([]byte(nil), d.control...)
		return emit(d.cur.opcode, payload)
	}
	if !d.cur.fin {
		return nil
	}
	op, payload := d.msgOp, d.message
	if payload == nil {
		payload = []byte{}
	}
	d.inMessage = false
	d.message = nil
	return emit(op, payload)
}
