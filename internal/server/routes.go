package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opendochost/wopihost/internal/api"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups defines all endpoint groups and their auth requirements.
// This table is the single source of truth for routing decisions.
var routeGroups = []RouteGroup{
	// WOPI surface: authenticated by access tokens inside the handler,
	// never by sessions. Session gating here would break every editor.
	{Name: "wopi", PathPrefix: "/wopi", RequiresAuth: false},

	// API: auth required (exceptions in publicExceptions)
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// publicExceptions are specific paths that don't require auth within otherwise protected groups.
var publicExceptions = []string{
	"/api/healthz",
	"/api/auth/login",
}

// IsAuthRequired checks if a given path requires authentication.
// This is used by the auth middleware to make gating decisions.
func IsAuthRequired(path string, basePath string) bool {
	// Check public exceptions (paths that are always public)
	for _, exc := range publicExceptions {
		fullExc := basePath + exc
		if pathMatchesPrefix(path, fullExc) {
			return false
		}
	}

	// Check base-path-mounted endpoint groups
	for _, rg := range routeGroups {
		fullPrefix := basePath + rg.PathPrefix
		if pathMatchesPrefix(path, fullPrefix) {
			return rg.RequiresAuth
		}
	}

	// Default: require auth for unknown paths
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		if path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// setupRoutes creates the chi router with all route groups mounted.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Global middleware stack (order matters for correct logging)
	// RequestID must come first so GetReqID works in loggingMiddleware.
	// loggingMiddleware wraps the response and Recoverer writes through
	// the wrapper, so the access log captures correct status for panics.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Rate limiting for high-risk public endpoints
	rateLimitConfig := map[string]RateLimitConfig{
		"/api/auth/login": {RequestsPerMinute: 5, Burst: 2},
	}
	r.Use(s.rateLimitMiddleware(rateLimitConfig))

	// Auth middleware for all routes (checks IsAuthRequired)
	r.Use(s.authMiddleware)

	// Mount app endpoints under external_base_path
	if s.cfg.ExternalBasePath != "" {
		r.Route(s.cfg.ExternalBasePath, func(r chi.Router) {
			s.mountAppEndpoints(r)
		})
	} else {
		s.mountAppEndpoints(r)
	}

	return r
}

// mountAppEndpoints mounts app endpoints (may be under base path).
func (s *Server) mountAppEndpoints(r chi.Router) {
	// WOPI files surface
	s.wopiHandler.Routes(r)

	// API endpoints
	r.Route("/api", func(r chi.Router) {
		// Health endpoint (public)
		r.Get("/healthz", api.HealthHandler)

		// Auth endpoints (login public, the rest session-gated)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.authHandler.Login)
			r.Post("/logout", s.authHandler.Logout)
			r.Get("/me", s.authHandler.GetCurrentUser)
		})

		// Share issuance (authenticated)
		r.Route("/shares", func(r chi.Router) {
			r.Post("/", s.shareHandler.CreateShare)
			r.Delete("/{token}", s.shareHandler.RevokeShare)
		})
	})
}
