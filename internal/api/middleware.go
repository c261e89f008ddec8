package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/modules"
	"github.com/luigi-home/luigid/internal/ratelimit"
)

type contextKey string

const callerKey contextKey = "caller"

// caller returns the authenticated caller stored by the auth
// middleware. The zero Caller means the handler is public.
func (s *Server) caller(r *http.Request) modules.Caller {
	if c, ok := r.Context().Value(callerKey).(modules.Caller); ok {
		return c
	}
	return modules.Caller{IP: s.clientIP(r)}
}

// public applies the global rate limit and metrics only.
func (s *Server) public(next http.HandlerFunc) http.HandlerFunc {
	return s.observe(s.rateLimit(ratelimit.TierGlobal, next))
}

// protect applies the global rate limit and authentication.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return s.observe(s.rateLimit(ratelimit.TierGlobal, s.authenticate(next)))
}

// sensitive additionally applies the sensitive-operation tier after
// authentication, so only authenticated callers consume that budget.
func (s *Server) sensitive(next http.HandlerFunc) http.HandlerFunc {
	return s.observe(s.rateLimit(ratelimit.TierGlobal, s.authenticate(s.rateLimit(ratelimit.TierSensitive, next))))
}

// rateLimit rejects requests exceeding the tier ceiling for this IP.
// Rejections are audited as potential abuse.
func (s *Server) rateLimit(tier ratelimit.Tier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)

		decision := s.limiter.Check(ip, tier)
		if !decision.Allowed {
			s.rejectRateLimited(w, ip, tier, decision.RetryAfter)
			return
		}

		next(w, r)
	}
}

// rejectRateLimited answers 429 with a Retry-After hint and audits the
// rejection.
func (s *Server) rejectRateLimited(w http.ResponseWriter, ip string, tier ratelimit.Tier, retryAfter time.Duration) {
	if s.auditor != nil {
		s.auditor.RateLimited(ip, string(tier))
	}
	s.registryM.RecordRateLimited(string(tier))
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
	WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// authenticate checks Basic credentials. Failures are generic 401s,
// audited, counted against the auth tier; once the tier is at ceiling,
// further attempts from that IP are refused before any credential work.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)

		if d := s.limiter.Peek(ip, ratelimit.TierAuth); !d.Allowed {
			s.rejectRateLimited(w, ip, ratelimit.TierAuth, d.RetryAfter)
			return
		}

		identity, err := s.auth.FromRequest(r)
		if err != nil {
			s.registryM.RecordAuthAttempt(false)
			if s.auditor != nil {
				s.auditor.AuthFailure(ip, nil)
			}

			// Only failed attempts consume the auth tier.
			s.limiter.Check(ip, ratelimit.TierAuth)

			w.Header().Set("WWW-Authenticate", `Basic realm="luigid"`)
			WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		s.registryM.RecordAuthAttempt(true)
		if s.auditor != nil {
			s.auditor.AuthSuccess(identity, ip)
		}

		caller := modules.Caller{Identity: identity, IP: ip}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade keeps working behind
// the metrics wrapper.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// observe records request metrics and caps the request body size.
func (s *Server) observe(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.srvCfg.MaxBodyBytes)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		duration := time.Since(start).Seconds()
		s.registryM.RecordAPIRequest(r.Method, r.URL.Path, rec.status, duration)
	}
}
