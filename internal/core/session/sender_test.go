package session

import (
	"bytes"
	"math/rand"
	"net"
	"testing"

	"tc_eqpsim/internal/shared/types"
)

func newIdleSession(t *testing.T, st types.SocketType) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	s, err := New(server, Options{Eqp: testEqp(types.ModePassive, st), Rand: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSplitKeepsAllBytes(t *testing.T) {
	s := newIdleSession(t, lineLF)
	b := []byte("0123456789")

	for parts := 1; parts <= 12; parts++ {
		chunks := s.split(b, parts)
		want := min(parts, len(b))
		if len(chunks) != want {
			t.Errorf("parts=%d: Expected %d chunks, but got %d", parts, want, len(chunks))
		}
		if got := bytes.Join(chunks, nil); !bytes.Equal(got, b) {
			t.Errorf("parts=%d: Expected chunks to reassemble to %q, but got %q", parts, b, got)
		}
		for _, c := range chunks {
			if len(c) == 0 {
				t.Errorf("parts=%d: Expected no empty chunk", parts)
			}
		}
	}
}

func TestCorruptProtectsFraming(t *testing.T) {
	st := types.SocketType{Kind: types.KindStartEnd, StartHex: "02", EndHex: "03"}
	s := newIdleSession(t, st)

	for i := 0; i < 50; i++ {
		b := []byte{0x02, 'A', 'B', 'C', 0x03}
		idx, ok := s.corrupt(b, true)
		if !ok {
			t.Fatal("Expected corrupt to modify a byte")
		}
		if idx < 1 || idx > 3 {
			t.Fatalf("Expected index inside the payload, but got %d", idx)
		}
		if b[0] != 0x02 || b[4] != 0x03 {
			t.Fatalf("Expected markers to stay intact, but got % x", b)
		}
	}
}

func TestCorruptWithoutPayload(t *testing.T) {
	s := newIdleSession(t, lineLF)

	b := []byte("\n")
	if _, ok := s.corrupt(b, true); ok {
		t.Error("Expected nothing to corrupt when only the line ending is present")
	}
	if _, ok := s.corrupt(b, false); !ok || b[0] == '\n' {
		t.Error("Expected the line ending to be corrupted when framing is not protected")
	}
}

func TestRandomDurationBounds(t *testing.T) {
	s := newIdleSession(t, lineLF)
	if d := s.randomDuration(0); d != 0 {
		t.Errorf("Expected 0 for zero jitter, but got %v", d)
	}
	for i := 0; i < 100; i++ {
		if d := s.randomDuration(20e6); d < 0 || d > 20e6 {
			t.Fatalf("Expected value within [0, 20ms], but got %v", d)
		}
	}
}
