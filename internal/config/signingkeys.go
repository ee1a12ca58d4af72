package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SigningKeyEntry is one entry of the on-disk signing-key bundle: the
// authorization server's Ed25519 key pair plus the kid advertised on minted
// access tokens and at GET /jwks.
type SigningKeyEntry struct {
	Kid        string `yaml:"kid"`
	PrivateKey string `yaml:"private_key"` // base64url, no padding
}

// SigningKeyBundle is the YAML shape read from Config.SigningKeysPath (spec
// §6 "signing_keys: path-or-inline JWKS").
type SigningKeyBundle struct {
	Keys []SigningKeyEntry `yaml:"keys"`
}

// LoadSigningKeys reads and decodes the signing-key bundle at path. If path
// is empty, it generates a single ephemeral key pair — acceptable for
// development, never for a production realm whose tokens must outlive a
// process restart.
func LoadSigningKeys(path string) (SigningKeyBundle, []ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return SigningKeyBundle{}, nil, fmt.Errorf("config: generate ephemeral signing key: %w", err)
		}
		bundle := SigningKeyBundle{Keys: []SigningKeyEntry{{
			Kid:        "ephemeral-1",
			PrivateKey: base64.RawURLEncoding.EncodeToString(priv),
		}}}
		return bundle, []ed25519.PrivateKey{priv}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return SigningKeyBundle{}, nil, fmt.Errorf("config: read signing keys bundle: %w", err)
	}
	var bundle SigningKeyBundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return SigningKeyBundle{}, nil, fmt.Errorf("config: parse signing keys bundle: %w", err)
	}
	if len(bundle.Keys) == 0 {
		return SigningKeyBundle{}, nil, fmt.Errorf("config: signing keys bundle %q has no keys", path)
	}

	privs := make([]ed25519.PrivateKey, 0, len(bundle.Keys))
	for _, entry := range bundle.Keys {
		raw, err := base64.RawURLEncoding.DecodeString(entry.PrivateKey)
		if err != nil {
			return SigningKeyBundle{}, nil, fmt.Errorf("config: signing key %q has invalid private_key encoding: %w", entry.Kid, err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return SigningKeyBundle{}, nil, fmt.Errorf("config: signing key %q has wrong private key length %d", entry.Kid, len(raw))
		}
		privs = append(privs, ed25519.PrivateKey(raw))
	}
	return bundle, privs, nil
}
