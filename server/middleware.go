package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"hockey-notifier/auth"
	"hockey-notifier/pkg/notifier"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// timingMiddleware adds the X-Process-Time header to every response.
func timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &timingWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(ww, r)
		if !ww.wroteHeader {
			ww.setHeader()
		}
	})
}

// timingWriter sets X-Process-Time just before the header is flushed.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timingWriter) setHeader() {
	elapsed := time.Since(w.start)
	w.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000.0))
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.setHeader()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// requireAdmin rejects requests without a valid admin token before any
// handler runs.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.verifier.Verify(auth.TokenFromRequest(r)) {
			s.logger.Warn("Rejected admin request", "method", r.Method, "path", r.URL.Path, "ip", clientIP(r))
			s.writeError(w, r, fmt.Errorf("admin token: %w", notifier.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
}

func newIPLimiter(perMinute int) *ipLimiter {
	burst := perMinute / 2
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// rateLimit throttles a route per client IP. A non-positive rate disables it.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newIPLimiter(perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.allow(ip) {
				s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				resp := errorResponse{}
				resp.Error.Code = "RATE_LIMITED"
				resp.Error.Message = "too many requests"
				s.writeJSON(w, http.StatusTooManyRequests, resp)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote IP. middleware.RealIP has already
// applied forwarding headers.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || ip == "" {
		return r.RemoteAddr
	}
	return ip
}
