package admission

import (
	"errors"
	"net"
	"strings"
)

// ErrUnresolvableIdentity means no usable client identity could be derived
// from the request. Callers treat this as a fail-open warning condition.
var ErrUnresolvableIdentity = errors.New("cannot resolve client identity")

// ForwardedForHeader is the header consulted when the peer address is a
// loopback hop (e.g. behind a local reverse proxy).
const ForwardedForHeader = "X-Forwarded-For"

// ResolveIdentity derives the throttling identity from a transport peer
// address. For loopback peers the identity comes from the forwarded-address
// header instead; when that is absent resolution fails.
func ResolveIdentity(remoteAddr, forwardedFor string) (string, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrUnresolvableIdentity
	}

	if !isLoopback(host) {
		return host, nil
	}

	// Loopback peer: trust the first forwarded hop if the proxy provided one.
	if forwardedFor != "" {
		first := forwardedFor
		if i := strings.Index(first, ","); i >= 0 {
			first = first[:i]
		}
		first = strings.TrimSpace(first)
		if first != "" {
			return first, nil
		}
	}

	return "", ErrUnresolvableIdentity
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
