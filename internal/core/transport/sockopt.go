package transport

import (
	"net"
	"syscall"

	"tc_eqpsim/internal/shared/logger"
)

const keepAliveIdleSec = 30

func listenControl(_, _ string, c syscall.RawConn) error {
	return control(c, setListenOptions)
}

func dialControl(_, _ string, c syscall.RawConn) error {
	return control(c, setConnOptions)
}

func control(c syscall.RawConn, fn func(fd uintptr) error) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = fn(fd)
	}); err != nil {
		return err
	}
	return sockErr
}

// tuneAccepted sets TCP_NODELAY and keepalive on an accepted connection. Failures are only logged.
func tuneAccepted(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	if err := control(raw, setConnOptions); err != nil {
		logger.Debug().Err(err).Str("event", "sockopt_failed").Str("remote", conn.RemoteAddr().String()).Send()
	}
}
