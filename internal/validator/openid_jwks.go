package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeswr/lws-core/internal/cache"
	"github.com/jeswr/lws-core/internal/jwkutil"
)

// OpenIDJWKSClient discovers and caches an issuer's JWKS via the standard
// OpenID Connect discovery document (spec §4.4 "Discover
// <iss>/.well-known/openid-configuration, read jwks_uri, fetch JWKS").
type OpenIDJWKSClient struct {
	cache      cache.Cache
	httpClient *http.Client
	ttl        time.Duration
}

// NewOpenIDJWKSClient constructs a client backed by the shared document
// cache, reusing the same TTL-bounded-cache pattern as the CID resolver.
func NewOpenIDJWKSClient(c cache.Cache, timeout time.Duration, ttl time.Duration) *OpenIDJWKSClient {
	return &OpenIDJWKSClient{
		cache:      c,
		httpClient: &http.Client{Timeout: timeout},
		ttl:        ttl,
	}
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys []jwkutil.PublicKeyJWK `json:"keys"`
}

// Discover fetches (or returns from cache) the set of public signing keys
// for issuer.
func (c *OpenIDJWKSClient) Discover(ctx context.Context, issuer string) ([]jwkutil.Key, error) {
	cacheKey := "openid-jwks:" + issuer
	if cached, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
		if keys, err := decodeJWKS(cached); err == nil {
			return keys, nil
		}
	}

	discoveryURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	var doc discoveryDocument
	if err := c.fetchJSON(ctx, discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("discovery document fetch failed: %w", err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document for %q has no jwks_uri", issuer)
	}

	var jwks jwksDocument
	if err := c.fetchJSON(ctx, doc.JWKSURI, &jwks); err != nil {
		return nil, fmt.Errorf("jwks fetch failed: %w", err)
	}

	keys := make([]jwkutil.Key, 0, len(jwks.Keys))
	for _, raw := range jwks.Keys {
		key, err := jwkutil.FromPublicKeyJWK(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks for %q contained no usable keys", issuer)
	}

	if encoded, err := json.Marshal(jwks.Keys); err == nil {
		_ = c.cache.Put(ctx, cacheKey, encoded, c.ttl)
	}
	return keys, nil
}

func decodeJWKS(raw []byte) ([]jwkutil.Key, error) {
	var rawKeys []jwkutil.PublicKeyJWK
	if err := json.Unmarshal(raw, &rawKeys); err != nil {
		return nil, err
	}
	keys := make([]jwkutil.Key, 0, len(rawKeys))
	for _, r := range rawKeys {
		k, err := jwkutil.FromPublicKeyJWK(r)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("cached jwks decoded to zero usable keys")
	}
	return keys, nil
}

func (c *OpenIDJWKSClient) fetchJSON(ctx context.Context, uri string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, uri)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
