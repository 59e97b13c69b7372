package peer

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a dialable host and port.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint parses "host:port". The port must be non-zero.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port", s)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

// EndpointFromAddr converts a TCP address to an Endpoint.
func EndpointFromAddr(addr net.Addr) Endpoint {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return Endpoint{Host: tcp.IP.String(), Port: uint16(tcp.Port)}
	}
	if addr == nil {
		return Endpoint{}
	}
	ep, err := ParseEndpoint(addr.String())
	if err != nil {
		return Endpoint{Host: addr.String()}
	}
	return ep
}

// String returns "host:port".
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// WithPort returns a copy of e using port.
func (e Endpoint) WithPort(port uint16) Endpoint {
	e.Port = port
	return e
}
