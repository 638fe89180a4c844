package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
// Nil pointers mean the flag was not set.
type FlagOverrides struct {
	ListenAddr       *string
	ExternalOrigin   *string
	ExternalBasePath *string
	TLSMode          *string
	LoggingLevel     *string
	StoreDriver      *string
	FilesystemDriver *string
	AdminUsername    *string
	AdminPassword    *string
	StrictLocks      *string // "true", "false", or "" (unset)
}

// fileConfig mirrors Config with TOML tags and pointer sections to detect presence.
type fileConfig struct {
	ExternalOrigin   string `toml:"external_origin"`
	ExternalBasePath string `toml:"external_base_path"`
	ListenAddr       string `toml:"listen_addr"`

	Logging    *LoggingConfig        `toml:"logging"`
	TLS        *TLSConfig            `toml:"tls"`
	Server     *serverFileConfig     `toml:"server"`
	Store      *StoreConfig          `toml:"store"`
	Filesystem *filesystemFileConfig `toml:"filesystem"`
	WOPI       *wopiFileConfig       `toml:"wopi"`
	Share      *ShareConfig          `toml:"share"`
}

type serverFileConfig struct {
	BootstrapAdmin *BootstrapAdminConfig `toml:"bootstrap_admin"`
	TrustedProxies []string              `toml:"trusted_proxies"`
	CredentialKey  string                `toml:"credential_key"`
}

type filesystemFileConfig struct {
	Driver  string                    `toml:"driver"`
	Drivers map[string]map[string]any `toml:"drivers"`
}

type wopiFileConfig struct {
	StrictLocks   *bool  `toml:"strict_locks"`
	ServerVersion string `toml:"server_version"`
	MachineName   string `toml:"machine_name"`
}

// Load builds the effective configuration with precedence:
// defaults -> TOML file -> CLI flags.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		if err := applyFile(cfg, opts.ConfigPath, logger); err != nil {
			return nil, err
		}
	}

	applyFlags(cfg, opts.FlagOverrides)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays values from a TOML file onto cfg.
func applyFile(cfg *Config, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	meta, err := toml.Decode(string(data), &fc)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Warn about unknown keys so typos don't silently do nothing
	for _, key := range meta.Undecoded() {
		logger.Warn("unknown config key ignored", "key", key.String(), "file", path)
	}

	if fc.ExternalOrigin != "" {
		cfg.ExternalOrigin = fc.ExternalOrigin
	}
	if fc.ExternalBasePath != "" {
		cfg.ExternalBasePath = fc.ExternalBasePath
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
	}
	if fc.Server != nil {
		if fc.Server.BootstrapAdmin != nil {
			cfg.Server.BootstrapAdmin = *fc.Server.BootstrapAdmin
		}
		if fc.Server.TrustedProxies != nil {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
		if fc.Server.CredentialKey != "" {
			cfg.Server.CredentialKey = fc.Server.CredentialKey
		}
	}
	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}
	if fc.Filesystem != nil {
		if fc.Filesystem.Driver != "" {
			cfg.Filesystem.Driver = fc.Filesystem.Driver
		}
		if fc.Filesystem.Drivers != nil {
			cfg.Filesystem.Drivers = fc.Filesystem.Drivers
		}
	}
	if fc.WOPI != nil {
		if fc.WOPI.StrictLocks != nil {
			cfg.WOPI.StrictLocks = *fc.WOPI.StrictLocks
		}
		if fc.WOPI.ServerVersion != "" {
			cfg.WOPI.ServerVersion = fc.WOPI.ServerVersion
		}
		if fc.WOPI.MachineName != "" {
			cfg.WOPI.MachineName = fc.WOPI.MachineName
		}
	}
	if fc.Share != nil && fc.Share.TTLHours > 0 {
		cfg.Share.TTLHours = fc.Share.TTLHours
	}

	return nil
}

// applyFlags overlays CLI flag values onto cfg. Nil pointers are skipped.
func applyFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.ExternalOrigin != nil && *f.ExternalOrigin != "" {
		cfg.ExternalOrigin = *f.ExternalOrigin
	}
	if f.ExternalBasePath != nil && *f.ExternalBasePath != "" {
		cfg.ExternalBasePath = *f.ExternalBasePath
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.FilesystemDriver != nil && *f.FilesystemDriver != "" {
		cfg.Filesystem.Driver = *f.FilesystemDriver
	}
	if f.AdminUsername != nil && *f.AdminUsername != "" {
		cfg.Server.BootstrapAdmin.Username = *f.AdminUsername
	}
	if f.AdminPassword != nil && *f.AdminPassword != "" {
		cfg.Server.BootstrapAdmin.Password = *f.AdminPassword
	}
	if f.StrictLocks != nil && *f.StrictLocks != "" {
		cfg.WOPI.StrictLocks = strings.EqualFold(*f.StrictLocks, "true")
	}
}

// Validate checks the effective configuration for invalid values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.TLS.Mode {
	case "off", "selfsigned":
	case "static":
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.mode=static requires cert_file and key_file")
		}
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned", cfg.TLS.Mode)
	}

	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite", cfg.Store.Driver)
	}

	if !strings.HasPrefix(cfg.ExternalOrigin, "http://") && !strings.HasPrefix(cfg.ExternalOrigin, "https://") {
		return fmt.Errorf("external_origin must include a scheme, got %q", cfg.ExternalOrigin)
	}
	if cfg.ExternalBasePath != "" && !strings.HasPrefix(cfg.ExternalBasePath, "/") {
		return fmt.Errorf("external_base_path must start with /, got %q", cfg.ExternalBasePath)
	}

	if cfg.Share.TTLHours <= 0 {
		return fmt.Errorf("share.ttl_hours must be positive, got %d", cfg.Share.TTLHours)
	}

	return nil
}

// Redacted returns a copy of the config safe for logging.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Server.BootstrapAdmin.Password != "" {
		out.Server.BootstrapAdmin.Password = "***"
	}
	if out.Server.CredentialKey != "" {
		out.Server.CredentialKey = "***"
	}
	return &out
}
