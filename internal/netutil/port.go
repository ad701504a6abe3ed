package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// candidate can be bound.
var ErrNoBindAddr = errors.New("no available gateway bind addresses")

// Listen binds the preferred address, falling back through candidates when
// autoFallback is set. The returned listener is already bound, so there is no
// window in which another process can take the port.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoBindAddr
}
