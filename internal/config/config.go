// Package config loads and validates the environment-driven configuration
// shared by the authorization server, resource server, and resolver
// processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Default values for the tunables listed in the external interfaces contract.
const (
	DefaultAccessTokenMaxLifetimeSeconds = 300
	HardCapAccessTokenLifetimeSeconds    = 300
	DefaultClockSkewToleranceSeconds     = 60
	DefaultCIDMaxBytes                   = 10240
	DefaultCIDFetchTimeoutMillis         = 5000
	DefaultCIDDefaultTTLSeconds          = 3600
)

// Config holds the recognized configuration options from §6 of the spec.
type Config struct {
	RealmURI                string
	AuthorizationServerURI  string
	SigningKeysPath         string // path to a YAML/JSON key bundle; empty means an ephemeral key is generated (inline key material is not read)
	AccessTokenMaxLifetimeS uint32
	ClockSkewToleranceS     uint32
	CIDHTTPSOnly            bool
	CIDMaxBytes             uint32
	CIDFetchTimeoutMS       uint32
	CIDDefaultTTLS          uint32
	JTIStoreEndpoint        string // optional; empty means in-process fallback only
	DocumentCacheEndpoint   string // optional; empty means in-process fallback only
}

var (
	current *Config
	mu      sync.RWMutex
)

// Load reads configuration from the environment, validates it, and stores it
// as the process-wide singleton. It must be called once at startup before any
// other accessor in this package is used.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return nil, fmt.Errorf("config: already initialized, cannot reinitialize")
	}

	cfg := &Config{
		AccessTokenMaxLifetimeS: DefaultAccessTokenMaxLifetimeSeconds,
		ClockSkewToleranceS:     DefaultClockSkewToleranceSeconds,
		CIDHTTPSOnly:            true,
		CIDMaxBytes:             DefaultCIDMaxBytes,
		CIDFetchTimeoutMS:       DefaultCIDFetchTimeoutMillis,
		CIDDefaultTTLS:          DefaultCIDDefaultTTLSeconds,
	}

	cfg.RealmURI = strings.TrimSpace(os.Getenv("LWS_REALM_URI"))
	if cfg.RealmURI == "" {
		return nil, fmt.Errorf("config: LWS_REALM_URI is required")
	}

	cfg.AuthorizationServerURI = strings.TrimSpace(os.Getenv("LWS_AUTHORIZATION_SERVER_URI"))
	if cfg.AuthorizationServerURI == "" {
		return nil, fmt.Errorf("config: LWS_AUTHORIZATION_SERVER_URI is required")
	}

	cfg.SigningKeysPath = strings.TrimSpace(os.Getenv("LWS_SIGNING_KEYS_PATH"))

	if v := os.Getenv("LWS_ACCESS_TOKEN_MAX_LIFETIME_S"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LWS_ACCESS_TOKEN_MAX_LIFETIME_S: %w", err)
		}
		cfg.AccessTokenMaxLifetimeS = uint32(n)
	}
	if cfg.AccessTokenMaxLifetimeS > HardCapAccessTokenLifetimeSeconds {
		cfg.AccessTokenMaxLifetimeS = HardCapAccessTokenLifetimeSeconds
	}

	if v := os.Getenv("LWS_CLOCK_SKEW_TOLERANCE_S"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LWS_CLOCK_SKEW_TOLERANCE_S: %w", err)
		}
		cfg.ClockSkewToleranceS = uint32(n)
	}

	if v := os.Getenv("LWS_CID_HTTPS_ONLY"); v != "" {
		cfg.CIDHTTPSOnly = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LWS_CID_MAX_BYTES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LWS_CID_MAX_BYTES: %w", err)
		}
		cfg.CIDMaxBytes = uint32(n)
	}
	if v := os.Getenv("LWS_CID_FETCH_TIMEOUT_MS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LWS_CID_FETCH_TIMEOUT_MS: %w", err)
		}
		cfg.CIDFetchTimeoutMS = uint32(n)
	}
	if v := os.Getenv("LWS_CID_DEFAULT_TTL_S"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LWS_CID_DEFAULT_TTL_S: %w", err)
		}
		cfg.CIDDefaultTTLS = uint32(n)
	}

	cfg.JTIStoreEndpoint = strings.TrimSpace(os.Getenv("LWS_JTI_STORE_ENDPOINT"))
	cfg.DocumentCacheEndpoint = strings.TrimSpace(os.Getenv("LWS_DOCUMENT_CACHE_ENDPOINT"))

	current = cfg
	return cfg, nil
}

// Get returns the process-wide config. Panics if Load has not been called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("config: not initialized - call Load first")
	}
	return current
}

// Reset clears the singleton. Test-only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}
