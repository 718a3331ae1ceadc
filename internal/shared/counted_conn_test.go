package shared

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
)

func TestCountedConnCountsBothDirections(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var rx, tx atomic.Uint64
	c := NewCountedConn(a, &rx, &tx)

	go func() {
		buf := make([]byte, 5)
		io.ReadFull(b, buf)
		b.Write([]byte("pong!!"))
	}()

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if tx.Load() != 5 {
		t.Errorf("Expected 5 tx bytes, but got %d", tx.Load())
	}
	if rx.Load() != 6 {
		t.Errorf("Expected 6 rx bytes, but got %d", rx.Load())
	}
}
