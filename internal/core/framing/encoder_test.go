package framing

import (
	"bytes"
	"testing"

	"tc_eqpsim/internal/shared/types"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		st   types.SocketType
		want []byte
	}{
		{"lf", types.SocketType{Kind: types.KindLineEnd, LineEnding: types.LineEndingLF}, []byte("CMD=A\n")},
		{"crlf", types.SocketType{Kind: types.KindLineEnd, LineEnding: types.LineEndingCRLF}, []byte("CMD=A\r\n")},
		{"start end", types.SocketType{Kind: types.KindStartEnd, StartHex: "02", EndHex: "0x03"}, []byte("\x02CMD=A\x03")},
		{"regex", types.SocketType{Kind: types.KindRegex, RegexPattern: ".+"}, []byte("CMD=A")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.st, "CMD=A")
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Expected %q, but got %q", tt.want, got)
			}
		})
	}
}

func TestEncodeThenDecode(t *testing.T) {
	st := types.SocketType{Kind: types.KindStartEnd, StartHex: "02", EndHex: "03"}
	wire, err := Encode(st, "CMD=REPORT EQPID=TEST001")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	d := mustDecoder(t, st)
	frames, _ := d.Decode(wire)
	assertFrames(t, frames, "CMD=REPORT EQPID=TEST001")
}

func TestOverhead(t *testing.T) {
	tests := []struct {
		st             types.SocketType
		prefix, suffix int
	}{
		{types.SocketType{Kind: types.KindLineEnd, LineEnding: types.LineEndingLF}, 0, 1},
		{types.SocketType{Kind: types.KindLineEnd, LineEnding: types.LineEndingCRLF}, 0, 2},
		{types.SocketType{Kind: types.KindStartEnd, StartHex: "02 02", EndHex: "03"}, 2, 1},
		{types.SocketType{Kind: types.KindRegex, RegexPattern: ".+"}, 0, 0},
	}
	for _, tt := range tests {
		p, s := Overhead(tt.st)
		if p != tt.prefix || s != tt.suffix {
			t.Errorf("Overhead(%+v): Expected (%d,%d), but got (%d,%d)", tt.st, tt.prefix, tt.suffix, p, s)
		}
	}
}
