package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opendochost/wopihost/internal/api"
	"github.com/opendochost/wopihost/internal/identity"
)

type contextKey string

const (
	// SessionContextKey is the context key for the current session.
	SessionContextKey contextKey = "session"
	// UserContextKey is the context key for the current user.
	UserContextKey contextKey = "user"
)

// loggingMiddleware logs request information using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", s.proxyTrust.clientIP(r),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware enforces session authentication.
// Public endpoints (the WOPI surface, health, login) bypass it; the WOPI
// handler authenticates with its own access tokens.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthRequired(r.URL.Path, s.cfg.ExternalBasePath) {
			next.ServeHTTP(w, r)
			return
		}

		sessionToken := extractSessionToken(r)
		if sessionToken == "" {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}

		session, err := s.deps.SessionRepo.Get(r.Context(), sessionToken)
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session not found or expired")
			return
		}

		if session.IsExpired() {
			api.WriteUnauthorized(w, api.ReasonSessionExpired, "session has expired")
			return
		}

		user, err := s.deps.PartyRepo.Get(r.Context(), session.UserID)
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session user not found")
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, SessionContextKey, session)
		ctx = context.WithValue(ctx, UserContextKey, user)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractSessionToken gets the session token from cookie or Authorization header.
func extractSessionToken(r *http.Request) string {
	cookie, err := r.Cookie("session")
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return ""
}

// RateLimitConfig holds configuration for a rate-limited endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// simpleRateLimiter is an in-memory rate limiter per key.
type simpleRateLimiter struct {
	mu       sync.Mutex
	counters map[string]*limitCounter
	limit    int
	burst    int
	window   time.Duration
}

type limitCounter struct {
	count   int
	resetAt time.Time
}

func newSimpleRateLimiter(requestsPerMinute, burst int) *simpleRateLimiter {
	return &simpleRateLimiter{
		counters: make(map[string]*limitCounter),
		limit:    requestsPerMinute,
		burst:    burst,
		window:   time.Minute,
	}
}

func (l *simpleRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	counter, exists := l.counters[key]
	if !exists || now.After(counter.resetAt) {
		l.counters[key] = &limitCounter{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}

	if counter.count < l.limit+l.burst {
		counter.count++
		return true
	}

	return false
}

// rateLimitMiddleware applies rate limiting to specific paths.
func (s *Server) rateLimitMiddleware(config map[string]RateLimitConfig) func(next http.Handler) http.Handler {
	limiters := make(map[string]*simpleRateLimiter)
	for path, cfg := range config {
		limiters[path] = newSimpleRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var limiter *simpleRateLimiter
			var matchedPath string
			for path := range limiters {
				fullPath := s.cfg.ExternalBasePath + path
				if r.URL.Path == fullPath || strings.HasPrefix(r.URL.Path, fullPath+"/") {
					limiter = limiters[path]
					matchedPath = path
					break
				}
			}

			if limiter != nil {
				clientIP := s.proxyTrust.clientIP(r)

				if !limiter.allow(clientIP) {
					s.logger.Warn("rate limit exceeded",
						"path", matchedPath,
						"client_ip", clientIP,
					)
					w.Header().Set("Retry-After", "60")
					api.WriteTooManyRequests(w, "too many requests, please try again later")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// proxyTrust decides whose X-Forwarded-For to believe when resolving the
// client IP for access logs and rate limit keys.
type proxyTrust struct {
	networks []*net.IPNet
}

// newProxyTrust parses the configured proxy ranges. Bare IPs are accepted
// as single-host networks; anything unparseable is dropped.
func newProxyTrust(cidrs []string) *proxyTrust {
	pt := &proxyTrust{}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 128
				if ip.To4() != nil {
					bits = 32
				}
				network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
			}
		}
		if network != nil {
			pt.networks = append(pt.networks, network)
		}
	}
	return pt
}

func (pt *proxyTrust) trusted(ip net.IP) bool {
	for _, network := range pt.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP resolves the caller's address. Forwarding headers are honored
// only when the direct peer is a configured proxy; anything a stranger
// puts in X-Forwarded-For is ignored.
func (pt *proxyTrust) clientIP(r *http.Request) string {
	direct := remoteIP(r.RemoteAddr)
	if direct == nil {
		return "unknown"
	}
	if !pt.trusted(direct) {
		return direct.String()
	}

	// X-Forwarded-For lists client first, then each hop.
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return direct.String()
}

// remoteIP extracts the IP from the "ip:port" form of http.Request.RemoteAddr.
func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr)
	}
	return net.ParseIP(host)
}

// GetSessionFromContext returns the session from request context.
func GetSessionFromContext(ctx context.Context) *identity.Session {
	session, _ := ctx.Value(SessionContextKey).(*identity.Session)
	return session
}

// GetUserFromContext returns the user from request context.
func GetUserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(UserContextKey).(*identity.User)
	return user
}
