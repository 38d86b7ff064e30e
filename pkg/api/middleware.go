package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/domain"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares outermost-first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

const requestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID propagates the caller's request id or mints a UUID, echoing
// it on the response and the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFrom returns the request id, or empty outside a request.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging emits one structured access log line per request.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFrom(r.Context()),
				"actor", auth.ActorID(r.Context()),
			)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// GlobalRateLimiter throttles requests per client IP.
type GlobalRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

// NewGlobalRateLimiter allows rps requests per second with the given
// burst per client IP, evicting idle clients in the background.
func NewGlobalRateLimiter(rps float64, burst int) *GlobalRateLimiter {
	gl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
	go gl.cleanupVisitors()
	return gl
}

func (gl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	v, ok := gl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(gl.rate, gl.burst)}
		gl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (gl *GlobalRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		gl.mu.Lock()
		for ip, v := range gl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(gl.visitors, ip)
			}
		}
		gl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with 429 and the standard
// envelope.
func (gl *GlobalRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !gl.getVisitor(ip).Allow() {
				WriteJSON(w, http.StatusTooManyRequests, errorEnvelope{
					Error:   string(domain.KindUnavailable),
					Message: "rate limit exceeded",
					Details: map[string]any{"retry_after_seconds": 1},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates a handler on one permission of the
// authenticated principal.
func RequirePermission(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			WriteError(w, domain.Forbiddenf("authentication required"))
			return
		}
		if !p.HasPermission(perm) {
			WriteError(w, domain.Forbiddenf("missing permission %s", perm).
				WithDetail("permission", perm))
			return
		}
		next(w, r)
	}
}
