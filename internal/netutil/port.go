package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// candidate can be listened on.
var ErrNoBindAddr = errors.New("no available resolver bind address")

// SelectBindAddr returns preferred when it is free, otherwise the first free
// candidate if autoFallback is set. Malformed addresses are rejected up front.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	tried := make(map[string]bool, len(candidates)+1)
	if preferred != "" {
		if err := validateAddr(preferred); err != nil {
			return "", err
		}
		tried[preferred] = true
		if IsAddrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if tried[addr] {
			continue
		}
		tried[addr] = true
		if err := validateAddr(addr); err != nil {
			return "", err
		}
		if IsAddrAvailable(addr) {
			return addr, nil
		}
	}
	return "", ErrNoBindAddr
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func validateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", addr, err)
	}
	return nil
}
