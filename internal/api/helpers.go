package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// clientIP returns the caller address used for rate limiting and
// auditing. X-Forwarded-For and X-Real-IP are honored only when the
// connection itself comes from a configured trusted proxy; otherwise
// any client could pick its own rate-limit key and spoof the audited IP.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if !s.trustedProxy(host) {
		return host
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return host
}

func (s *Server) trustedProxy(host string) bool {
	for _, p := range s.cfg.TrustedProxies {
		if p == host {
			return true
		}
	}
	return false
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response.
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON sends a JSON success response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
