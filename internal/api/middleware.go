package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
	"golang.org/x/time/rate"
)

// Middleware is a function that wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions together.
// The first middleware is the outermost.
func ChainMiddleware(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// publicPaths skip authentication and rate limiting
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/live":    true,
	"/metrics": true,
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request",
				logger.String("request_id", RequestIDFromContext(r.Context())),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("remote_addr", r.RemoteAddr),
				logger.Int("status", wrapped.statusCode),
				logger.Duration("duration", time.Since(start)),
			)
		})
	}
}

// ErrorHandlingMiddleware turns handler panics into a JSON 500
func ErrorHandlingMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic in handler",
						logger.String("request_id", RequestIDFromContext(r.Context())),
						logger.String("path", r.URL.Path),
						logger.String("error", fmt.Sprint(err)),
					)
					respondWithError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// limiterIdle is how long an IP's bucket survives without traffic
const limiterIdle = 5 * time.Minute

// ipLimiters hands out one token bucket per client IP
type ipLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*ipLimiter
	lastPrune time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(requestsPerSecond float64, burst int) *ipLimiters {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiters{
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		limiters:  make(map[string]*ipLimiter),
		lastPrune: time.Now(),
	}
}

// get returns the bucket for ip, sweeping idle buckets at most once per limiterIdle
func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= limiterIdle {
		l.pruneLocked(now, limiterIdle)
		l.lastPrune = now
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// prune drops limiters idle for longer than maxIdle
func (l *ipLimiters) prune(now time.Time, maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now, maxIdle)
}

func (l *ipLimiters) pruneLocked(now time.Time, maxIdle time.Duration) {
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > maxIdle {
			delete(l.limiters, ip)
		}
	}
}

// RateLimitMiddleware applies a per-IP token bucket of requestsPerSecond with the given burst.
// A non-positive rate disables limiting. Forwarding headers are only honoured when the
// peer address is one of trustedProxies.
func RateLimitMiddleware(requestsPerSecond float64, burst int, trustedProxies []string) Middleware {
	if requestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiters := newIPLimiters(requestsPerSecond, burst)
	trusted := newProxySet(trustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := getClientIP(r, trusted)
			if !limiters.get(clientIP, time.Now()).Allow() {
				logger.Warn("Rate limit exceeded",
					logger.String("client_ip", clientIP),
					logger.String("path", r.URL.Path),
				)
				respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires a valid bearer token when auth is enabled and injects the user id.
// With auth disabled every request runs as DefaultUserID.
func AuthMiddleware(auth *AuthManager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			userID := DefaultUserID
			if auth.Enabled() {
				token, err := ExtractTokenFromHeader(r.Header.Get("Authorization"))
				if err != nil {
					respondWithError(w, http.StatusUnauthorized, err.Error())
					return
				}
				userID, err = auth.ValidateToken(token)
				if err != nil {
					logger.Warn("Rejected API token",
						logger.String("request_id", RequestIDFromContext(r.Context())),
						logger.ErrorField(err),
					)
					respondWithError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// proxySet holds the peer addresses allowed to set X-Forwarded-For / X-Real-IP
type proxySet map[string]bool

func newProxySet(addrs []string) proxySet {
	set := make(proxySet, len(addrs))
	for _, addr := range addrs {
		if addr = strings.TrimSpace(addr); addr != "" {
			set[addr] = true
		}
	}
	return set
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getClientIP returns the peer address, or the forwarded client when the peer is a trusted proxy
func getClientIP(r *http.Request, trusted proxySet) string {
	peer := remoteHost(r)
	if !trusted[peer] {
		return peer
	}

	// First hop of X-Forwarded-For is the original client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}
