package shared

import (
	"net"
	"sync/atomic"
)

// CountedConn wraps a net.Conn and adds the bytes it moves to atomic counters.
// rx counts bytes read from the peer, tx counts bytes written to it.
type CountedConn struct {
	net.Conn
	rx *atomic.Uint64
	tx *atomic.Uint64
}

// NewCountedConn wraps conn. Either counter may be shared by many connections.
func NewCountedConn(conn net.Conn, rx, tx *atomic.Uint64) *CountedConn {
	return &CountedConn{
		Conn: conn,
		rx:   rx,
		tx:   tx,
	}
}

func (c *CountedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.rx.Add(uint64(n))
	}
	return n, err
}

func (c *CountedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.tx.Add(uint64(n))
	}
	return n, err
}
