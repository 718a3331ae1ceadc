package registry

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// HostPort is a normalized "host:port" address.
type HostPort struct {
	Host string
	Port int
}

// ParseHostPort splits on the last ':' so "0.0.0.0:31001" and "localhost:9000" both work.
func ParseHostPort(s string) (HostPort, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return HostPort{}, fmt.Errorf("address is blank")
	}
	idx := strings.LastIndexByte(v, ':')
	if idx <= 0 || idx == len(v)-1 {
		return HostPort{}, fmt.Errorf("address must be host:port, but was: %s", s)
	}
	host := strings.TrimSpace(v[:idx])
	if host == "" {
		return HostPort{}, fmt.Errorf("host is blank: %s", s)
	}
	port, err := strconv.Atoi(strings.TrimSpace(v[idx+1:]))
	if err != nil {
		return HostPort{}, fmt.Errorf("invalid port in address %s: %w", s, err)
	}
	if port <= 0 || port > 65535 {
		return HostPort{}, fmt.Errorf("invalid port: %d", port)
	}
	return HostPort{Host: host, Port: port}, nil
}

func (h HostPort) String() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}
