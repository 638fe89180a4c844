// Package main is the entrypoint for the wopihost server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opendochost/wopihost/internal/config"
	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/server"
	"github.com/opendochost/wopihost/internal/store"
	"github.com/opendochost/wopihost/internal/vfs"

	// Register store drivers
	_ "github.com/opendochost/wopihost/internal/store/memory"
	_ "github.com/opendochost/wopihost/internal/store/sqlite"

	// Register filesystem drivers
	_ "github.com/opendochost/wopihost/internal/vfs/badger"
	_ "github.com/opendochost/wopihost/internal/vfs/memory"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	externalOrigin := flag.String("external-origin", "", "External origin (overrides config)")
	externalBasePath := flag.String("external-base-path", "", "External base path (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, or selfsigned (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, or error (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory or sqlite (overrides config)")
	fsDriver := flag.String("fs-driver", "", "Filesystem driver: memory or badger (overrides config)")
	adminUsername := flag.String("admin-username", "", "Bootstrap admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Bootstrap admin password (overrides config)")
	strictLocks := flag.String("strict-locks", "", "Enforce lock tokens on saves: true or false (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config with precedence: defaults -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:       listenAddr,
			ExternalOrigin:   externalOrigin,
			ExternalBasePath: externalBasePath,
			TLSMode:          tlsMode,
			LoggingLevel:     loggingLevel,
			StoreDriver:      storeDriver,
			FilesystemDriver: fsDriver,
			AdminUsername:    adminUsername,
			AdminPassword:    adminPassword,
			StrictLocks:      strictLocks,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create logger with configured level
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	// Create identity components
	partyRepo := identity.NewMemoryPartyRepo()
	sessionRepo := identity.NewMemorySessionRepo()
	userAuth := identity.NewUserAuth(12)

	// Bootstrap admin user
	bootstrap := identity.NewBootstrap(partyRepo, userAuth, logger)
	bootstrapUsername := cfg.Server.BootstrapAdmin.Username
	if bootstrapUsername == "" {
		bootstrapUsername = "admin"
	}
	if err := bootstrap.EnsureAdmin(context.Background(), bootstrapUsername, cfg.Server.BootstrapAdmin.Password); err != nil {
		logger.Error("failed to bootstrap admin", "error", err)
		os.Exit(1)
	}

	// Open the share/credential store
	storeDrv, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err, "available", store.AvailableDrivers())
		os.Exit(1)
	}
	if err := storeDrv.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", storeDrv.Name(), "error", err)
		os.Exit(1)
	}
	defer storeDrv.Close()

	// Open the virtual filesystem backend
	// Passes driver-specific config from [filesystem.drivers.<driver>] section
	fsDriverName := cfg.Filesystem.Driver
	if fsDriverName == "" {
		fsDriverName = "memory"
	}
	filesystem, err := vfs.NewFromConfig(fsDriverName, cfg.Filesystem.Drivers)
	if err != nil {
		logger.Error("failed to create filesystem", "error", err, "available", vfs.AvailableDrivers())
		os.Exit(1)
	}
	defer filesystem.Close()

	// Parse the credential sealing key if configured
	var credKey *credentials.Key
	if cfg.Server.CredentialKey != "" {
		k, err := credentials.ParseKey(cfg.Server.CredentialKey)
		if err != nil {
			logger.Error("invalid server.credential_key", "error", err)
			os.Exit(1)
		}
		credKey = &k
	}

	// Create server dependencies
	deps := &server.Deps{
		PartyRepo:     partyRepo,
		SessionRepo:   sessionRepo,
		UserAuth:      userAuth,
		Filesystem:    filesystem,
		Store:         storeDrv,
		CredentialKey: credKey,
	}

	// Create and start server
	srv, err := server.New(cfg, logger, deps)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
