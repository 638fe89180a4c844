// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opendochost/wopihost/internal/api"
	"github.com/opendochost/wopihost/internal/config"
	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/store"
	"github.com/opendochost/wopihost/internal/vfs"
	"github.com/opendochost/wopihost/internal/wopi"
)

var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	// Required: identity and auth
	PartyRepo   identity.PartyRepo
	SessionRepo identity.SessionRepo
	UserAuth    *identity.UserAuth

	// Required: virtual filesystem the served files live on
	Filesystem vfs.Filesystem

	// Required: share and credential persistence
	Store store.Driver

	// Optional: managers, built from Store and Filesystem when nil
	ShareManager *share.Manager
	CredManager  *credentials.Manager

	// Optional: credential sealing key. A random key is generated when
	// nil, so sealed credentials do not survive a restart.
	CredentialKey *credentials.Key
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	deps       *Deps
	proxyTrust *proxyTrust

	authHandler  *api.AuthHandler
	shareHandler *api.ShareHandler
	wopiHandler  *wopi.Handler
}

// New creates a new Server with the given configuration.
// Returns an error if required dependencies are missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	// Fail fast: validate required dependencies
	if err := validateDeps(deps); err != nil {
		return nil, err
	}

	// Build default managers for the optional dependencies
	if err := initializeDefaultManagers(cfg, logger, deps); err != nil {
		return nil, err
	}

	authHandler := api.NewAuthHandler(deps.PartyRepo, deps.SessionRepo, deps.UserAuth)

	baseURL := cfg.ExternalOrigin + cfg.ExternalBasePath
	shareHandler := api.NewShareHandler(deps.ShareManager, deps.CredManager, deps.SessionRepo, deps.Filesystem, baseURL)

	machineName := cfg.WOPI.MachineName
	if machineName == "" {
		machineName, _ = os.Hostname()
	}
	wopiHandler := wopi.NewHandler(deps.ShareManager, deps.CredManager, deps.PartyRepo, wopi.Config{
		BaseURL:       baseURL,
		Origin:        cfg.ExternalOrigin,
		ServerVersion: cfg.WOPI.ServerVersion,
		MachineName:   machineName,
		StrictLocks:   cfg.WOPI.StrictLocks,
	}, logger)

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		proxyTrust:   newProxyTrust(cfg.Server.TrustedProxies),
		authHandler:  authHandler,
		shareHandler: shareHandler,
		wopiHandler:  wopiHandler,
	}

	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"external_origin", s.cfg.ExternalOrigin,
		"external_base_path", s.cfg.ExternalBasePath,
		"tls_mode", s.cfg.TLS.Mode,
	)

	switch s.cfg.TLS.Mode {
	case "off":
		return s.httpServer.ListenAndServe()

	case "static", "selfsigned":
		tlsManager := NewTLSManager(&s.cfg.TLS, s.logger)
		hostname := extractHostname(s.cfg.ExternalOrigin)
		tlsConfig, err := tlsManager.GetTLSConfig(hostname)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		if tlsConfig == nil {
			return fmt.Errorf("TLS config is nil for mode %s", s.cfg.TLS.Mode)
		}

		s.httpServer.TLSConfig = tlsConfig

		// Empty file arguments make ListenAndServeTLS use
		// TLSConfig.Certificates.
		return s.httpServer.ListenAndServeTLS("", "")

	default:
		return fmt.Errorf("%w: %s", ErrInvalidTLSMode, s.cfg.TLS.Mode)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router, for tests that drive the server
// through httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// extractHostname extracts just the hostname from an external origin URL.
// TLS certificate generation needs the hostname without scheme or port.
func extractHostname(externalOrigin string) string {
	host := externalOrigin
	if after, ok := strings.CutPrefix(host, "https://"); ok {
		host = after
	} else if after, ok := strings.CutPrefix(host, "http://"); ok {
		host = after
	}
	host = strings.TrimSuffix(host, "/")
	// Strip port, minding bracketed IPv6 like [::1]:8080
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
		if host[i] == ']' {
			break
		}
	}
	return host
}

// validateDeps checks that all required dependencies are provided.
func validateDeps(deps *Deps) error {
	if deps == nil {
		return errors.New("deps is nil")
	}

	if deps.PartyRepo == nil {
		return fmt.Errorf("%w: PartyRepo", ErrMissingDep)
	}
	if deps.SessionRepo == nil {
		return fmt.Errorf("%w: SessionRepo", ErrMissingDep)
	}
	if deps.UserAuth == nil {
		return fmt.Errorf("%w: UserAuth", ErrMissingDep)
	}
	if deps.Filesystem == nil {
		return fmt.Errorf("%w: Filesystem", ErrMissingDep)
	}
	if deps.Store == nil {
		return fmt.Errorf("%w: Store", ErrMissingDep)
	}

	return nil
}

// initializeDefaultManagers fills in the optional managers from the
// required dependencies.
func initializeDefaultManagers(cfg *config.Config, logger *slog.Logger, deps *Deps) error {
	if deps.ShareManager == nil {
		ttl := time.Duration(cfg.Share.TTLHours) * time.Hour
		deps.ShareManager = share.NewManager(deps.Store.Shares(), deps.PartyRepo, deps.SessionRepo, deps.Filesystem, ttl, logger)
	}
	if deps.CredManager == nil {
		key := deps.CredentialKey
		if key == nil {
			k, err := credentials.NewRandomKey()
			if err != nil {
				return fmt.Errorf("failed to generate credential key: %w", err)
			}
			key = &k
			logger.Warn("no credential key configured, sealed credentials will not survive a restart")
		}
		deps.CredManager = credentials.NewManager(deps.Store.Credentials(), *key)
	}
	return nil
}
