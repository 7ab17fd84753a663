// Package clientip resolves the originating client address of a request.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the client IP. Forwarding headers are honored only
// when trustProxy is set; otherwise RemoteAddr is used.
func FromRequest(r *http.Request, trustProxy bool) net.IP {
	if r == nil {
		return nil
	}
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// String is FromRequest rendered as text, or "" when unknown.
func String(r *http.Request, trustProxy bool) string {
	if ip := FromRequest(r, trustProxy); ip != nil {
		return ip.String()
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
