package admission

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address used as the rate limit client key. With
// trustProxy it prefers the first public address in X-Forwarded-For, then
// X-Real-IP, and falls back to RemoteAddr without its port.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip := parseIP(part); isPublicIP(ip) {
					return ip.String()
				}
			}
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := parseIP(host); ip != nil {
		return ip.String()
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() && !ip.IsUnspecified()
}
