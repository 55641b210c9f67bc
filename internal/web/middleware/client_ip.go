package middleware

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunction defines how to generate the rate limiting key from the request
type KeyFunction func(r *http.Request) string

// Common key functions
var (
	// KeyByIP generates keys based on client IP address
	KeyByIP KeyFunction = func(r *http.Request) string {
		return "ip:" + GetClientIP(r)
	}

	// KeyByClientID keys on the OAuth client, falling back to IP when no
	// client identifies itself
	KeyByClientID KeyFunction = func(r *http.Request) string {
		if clientID, _, ok := r.BasicAuth(); ok && clientID != "" {
			return "client:" + clientID
		}
		if clientID := r.FormValue("client_id"); clientID != "" {
			return "client:" + clientID
		}
		return "ip:" + GetClientIP(r)
	}

	// KeyByIdentifier keys verification traffic on the submitted identity
	// so one address cannot burn another's budget from many IPs
	KeyByIdentifier KeyFunction = func(r *http.Request) string {
		if identifier := r.FormValue("identifier"); identifier != "" {
			return "identity:" + identifier
		}
		return "ip:" + GetClientIP(r)
	}
)

// GetClientIP extracts the real client IP from the request
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (most common proxy header)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP from the comma-separated list
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	// Check X-Real-IP header (common in nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}

	return r.RemoteAddr
}
