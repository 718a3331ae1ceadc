//go:build !linux

package transport

// The runtime already enables SO_REUSEADDR, TCP_NODELAY and keepalive on these platforms.
func setListenOptions(uintptr) error { return nil }

func setConnOptions(uintptr) error { return nil }
