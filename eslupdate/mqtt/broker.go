package mqtt

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Default ports per transport when the broker address names none.
const (
	DefaultPort    = "1883"
	DefaultWSPort  = "80"
	DefaultWSSPort = "443"
)

// ErrUnsupportedScheme is returned for broker URLs this package cannot dial.
var ErrUnsupportedScheme = errors.New("mqtt: unsupported broker scheme")

// Endpoint is a parsed broker address.
type Endpoint struct {
	Scheme string // "tcp", "ws" or "wss".
	Host   string // host:port
	Path   string // WebSocket request path, e.g. "/mqtt". Empty for tcp.
}

// WebSocket reports whether the endpoint is reached through a WebSocket
// upgrade rather than a raw TCP stream.
func (e Endpoint) WebSocket() bool { return e.Scheme == "ws" || e.Scheme == "wss" }

// String returns host:port for tcp endpoints and the full URL otherwise.
func (e Endpoint) String() string {
	if !e.WebSocket() {
		return e.Host
	}
	return e.Scheme + "://" + e.Host + e.Path
}

// ParseBroker normalizes a broker address. It accepts "host:port", a bare
// host, mqtt:// or tcp:// URLs, and ws:// or wss:// URLs with an optional
// path.
func ParseBroker(addr string) (Endpoint, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Endpoint{}, errors.New("mqtt: empty broker address")
	}

	ep := Endpoint{Scheme: "tcp"}
	port := DefaultPort
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("mqtt: parsing broker %q: %w", addr, err)
		}
		switch s := strings.ToLower(u.Scheme); s {
		case "mqtt", "tcp":
		case "ws":
			ep.Scheme, ep.Path, port = s, u.EscapedPath(), DefaultWSPort
		case "wss":
			ep.Scheme, ep.Path, port = s, u.EscapedPath(), DefaultWSSPort
		default:
			return Endpoint{}, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
		}
		addr = u.Host
	}

	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given.
		host, p = strings.Trim(addr, "[]"), port
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("mqtt: empty host in broker address %q", addr)
	}
	if n, err := strconv.ParseUint(p, 10, 16); err != nil || n == 0 {
		return Endpoint{}, fmt.Errorf("mqtt: invalid port %q in broker address", p)
	}
	ep.Host = net.JoinHostPort(host, p)
	return ep, nil
}
