// Package config provides configuration loading and validation.
package config

// Config holds the server configuration.
type Config struct {
	// ExternalOrigin is the public origin (scheme + host + port) for this instance.
	// Used for PostMessageOrigin and for minting WOPI URLs.
	// Example: "https://docs.example.org"
	ExternalOrigin string `json:"external_origin"`

	// ExternalBasePath is the optional path prefix for all endpoints.
	// Example: "/collabora" or empty string
	ExternalBasePath string `json:"external_base_path"`

	// ListenAddr is the address to listen on.
	// Example: ":9300"
	ListenAddr string `json:"listen_addr"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`

	// Server holds server-wide settings
	Server ServerConfig `json:"server"`

	// Store selects the share/credential persistence driver
	Store StoreConfig `json:"store"`

	// Filesystem selects the virtual filesystem driver
	Filesystem FilesystemConfig `json:"filesystem"`

	// WOPI holds protocol-level settings
	WOPI WOPIConfig `json:"wopi"`

	// Share holds token issuance settings
	Share ShareConfig `json:"share"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `json:"level"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned
	Mode string `json:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	// SelfSignedDir is where selfsigned mode stores generated certificates.
	SelfSignedDir string `json:"selfsigned_dir"`
}

// ServerConfig holds server-wide settings.
type ServerConfig struct {
	BootstrapAdmin BootstrapAdminConfig `json:"bootstrap_admin"`

	// TrustedProxies are CIDRs whose X-Forwarded-For headers are believed
	// when resolving the client IP for logging and rate limiting.
	TrustedProxies []string `json:"trusted_proxies"`

	// CredentialKey is the hex-encoded 32-byte key sealing stored
	// credentials. A random key is generated when empty, so sealed
	// credentials then do not survive a restart.
	CredentialKey string `json:"credential_key"`
}

// BootstrapAdminConfig holds the bootstrap admin credentials.
type BootstrapAdminConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver is one of: memory, sqlite
	Driver string `json:"driver"`

	// DataDir is the directory for data files (sqlite db)
	DataDir string `json:"data_dir"`
}

// FilesystemConfig selects and configures the virtual filesystem driver.
type FilesystemConfig struct {
	// Driver is one of: memory, badger
	Driver string `json:"driver"`

	// Drivers holds driver-specific configuration sections, decoded
	// by the selected driver at construction time.
	Drivers map[string]map[string]any `json:"drivers"`
}

// WOPIConfig holds protocol-level settings.
type WOPIConfig struct {
	// StrictLocks makes PutFile verify the lock token and answer 409 on
	// mismatch. Off by default: Collabora Online never locks before saving,
	// so enforcement would break saves from it.
	StrictLocks bool `json:"strict_locks"`

	// ServerVersion is reported in the X-WOPI-ServerVersion header.
	ServerVersion string `json:"server_version"`

	// MachineName is reported in the X-WOPI-MachineName header.
	// Defaults to the OS hostname.
	MachineName string `json:"machine_name"`
}

// ShareConfig holds token issuance settings.
type ShareConfig struct {
	// TTLHours is the lifetime of issued access tokens in hours.
	TTLHours int `json:"ttl_hours"`
}

// DefaultConfig returns a Config with sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		ExternalOrigin:   "http://localhost:9300",
		ExternalBasePath: "",
		ListenAddr:       ":9300",
		Logging: LoggingConfig{
			Level: "info",
		},
		TLS: TLSConfig{
			Mode: "off",
		},
		Store: StoreConfig{
			Driver:  "memory",
			DataDir: "data",
		},
		Filesystem: FilesystemConfig{
			Driver: "memory",
		},
		WOPI: WOPIConfig{
			StrictLocks:   false,
			ServerVersion: Version,
		},
		Share: ShareConfig{
			TTLHours: 24,
		},
	}
}

// Version is the server version reported to WOPI clients.
const Version = "1.0.0"
