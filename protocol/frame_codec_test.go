package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 125, 126, 65536} {
		payload := bytes.Repeat([]byte{0xAB}, size)
		for _, role := range []Role{RoleServer, RoleClient} {
			raw := EncodeFrame(OpcodeBinary, payload, role)
			f, n, err := DecodeFrameFromBytes(raw)
			if err != nil {
				t.Fatalf("size %d %s: %v", size, role, err)
			}
			if n != len(raw) {
				t.Fatalf("size %d %s: consumed %d of %d", size, role, n, len(raw))
			}
			if !f.Fin || f.Opcode != OpcodeBinary || f.Masked != (role == RoleClient) {
				t.Fatalf("size %d %s: header %+v", size, role, f)
			}
			if !bytes.Equal(f.Payload, payload) {
				t.Fatalf("size %d %s: payload mismatch", size, role)
			}
		}
	}
}

func TestLengthEncodingWidths(t *testing.T) {
	cases := []struct {
		size   int
		header int
	}{
		{125, 2},
		{126, 4},
		{0xFFFF, 4},
		{0x10000, 10},
	}
	for _, c := range cases {
		raw := EncodeFrame(OpcodeText, make([]byte, c.size), RoleServer)
		if got := len(raw) - c.size; got != c.header {
			t.Errorf("size %d: header %d bytes, want %d", c.size, got, c.header)
		}
	}
}

func TestMaskedHello(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpcodeText, Masked: true, Mask: [4]byte{0x37, 0xFA, 0x21, 0x3D}, Payload: []byte("Hello")}
	raw := f.AppendTo(nil)
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(raw, want) {
		t.Fatalf("encoded % x, want % x", raw, want)
	}
	got, _, err := DecodeFrameFromBytes(raw)
	if err != nil || string(got.Payload) != "Hello" {
		t.Fatalf("decoded %q, %v", got.Payload, err)
	}
}

func TestMaskIndexCarries(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	whole := []byte("abcdefghij")
	MaskBytes(key, 0, whole)

	split := []byte("abcdefghij")
	pos := MaskBytes(key, 0, split[:3])
	pos = MaskBytes(key, pos, split[3:7])
	MaskBytes(key, pos, split[7:])
	if !bytes.Equal(whole, split) {
		t.Fatalf("split masking % x, want % x", split, whole)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	raw := EncodeFrame(OpcodeBinary, make([]byte, 300), RoleClient)
	for _, n := range []int{0, 1, 3, 7, len(raw) - 1} {
		if _, _, err := DecodeFrameFromBytes(raw[:n]); !errors.Is(err, ErrShortFrame) {
			t.Errorf("prefix %d: %v", n, err)
		}
	}
}
