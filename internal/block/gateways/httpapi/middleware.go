package httpapi

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/common/metrics"
)

// AdminTokenHeader carries the admin token on mutating requests.
const AdminTokenHeader = "X-Admin-Token"

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// accessLog logs one line per request and feeds the HTTP metrics. The route
// label is chi's pattern so that query strings and IDs do not explode it.
func accessLog(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			dur := time.Since(start)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			metrics.ObserveRequest(r.Method, route, sw.status, dur)
			logger.Info(map[string]any{
				"method":      r.Method,
				"route":       route,
				"path":        r.URL.Path,
				"status":      sw.status,
				"bytes":       sw.size,
				"duration_ms": dur.Milliseconds(),
				"remote":      clientIP(r),
				"request_id":  middleware.GetReqID(r.Context()),
			}, "http_request")
		})
	}
}

// recoverer turns a handler panic into a 500 JSON outcome.
func recoverer(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error(map[string]any{
						"panic":      rec,
						"stack":      string(debug.Stack()),
						"request_id": middleware.GetReqID(r.Context()),
					}, "http_panic")
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter keeps one token bucket per client in a bounded LRU, so the
// table cannot grow without limit and idle clients age out on their own.
type rateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
}

// newRateLimiter returns nil when rps is not positive, which disables limiting.
func newRateLimiter(rps float64, burst, clients int) (*rateLimiter, error) {
	if rps <= 0 {
		return nil, nil
	}
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](clients)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{limit: rate.Limit(rps), burst: burst, clients: cache}, nil
}

func (l *rateLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			metrics.RateLimitRejectedTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(l.limit)))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(l rate.Limit) int {
	if l >= 1 {
		return 1
	}
	return int(1/float64(l) + 0.5)
}

// adminGuard lets safe methods through and requires a token matching the
// bcrypt hash on everything else. Without a hash the API is read-only.
//
// Responses:
//
//	401 when the header is missing
//	403 when the token is wrong, or when no hash is configured
func adminGuard(hash string, logger log.Logger) func(http.Handler) http.Handler {
	hashBytes := []byte(hash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if len(hashBytes) == 0 {
				writeError(w, http.StatusForbidden, "read_only", "read-only mode: admin token not configured")
				return
			}
			supplied := r.Header.Get(AdminTokenHeader)
			if supplied == "" {
				metrics.AdminAuthFailuresTotal.Inc()
				writeError(w, http.StatusUnauthorized, "missing_token", "missing admin token")
				return
			}
			if err := bcrypt.CompareHashAndPassword(hashBytes, []byte(supplied)); err != nil {
				metrics.AdminAuthFailuresTotal.Inc()
				logger.Warn(map[string]any{"remote": clientIP(r)}, "http_admin_token_rejected")
				writeError(w, http.StatusForbidden, "invalid_token", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the peer address without port. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
