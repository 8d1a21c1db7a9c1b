package verify

import (
	"net"
	"net/http"
	"strings"
)

// Placeholders used when the request carries no usable client information.
const (
	UnknownIP        = "Unknown IP"
	UnknownUserAgent = "Unknown User Agent"
)

// Request is one inbound verification callback.
type Request struct {
	Code      string
	IP        string
	UserAgent string
}

// ClientIP resolves the caller's address: the first X-Forwarded-For entry, then
// CF-Connecting-IP, then the transport peer, then UnknownIP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return UnknownIP
}

// UserAgent returns the User-Agent header or UnknownUserAgent.
func UserAgent(r *http.Request) string {
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		return ua
	}
	return UnknownUserAgent
}

// RequestFromHTTP builds a Request from the callback's query string and headers.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		Code:      strings.TrimSpace(r.URL.Query().Get("code")),
		IP:        ClientIP(r),
		UserAgent: UserAgent(r),
	}
}
