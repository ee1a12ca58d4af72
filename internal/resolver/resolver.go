// Package resolver implements the identifier resolver (spec §4.1, component
// C1): fetching Controlled Identifier Documents over HTTP(S), decoding
// did:key identifiers, and locating a VerificationMethod by key-id. CID
// documents are cached (component C2) but the cache is never authoritative
// — callers always re-verify signatures against the key material returned
// here.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeswr/lws-core/internal/cache"
	"github.com/jeswr/lws-core/internal/didkey"
	"github.com/jeswr/lws-core/internal/jwkutil"
)

// Resolver errors, matching the taxonomy in spec §7 "Resolver errors".
var (
	ErrInvalidURI           = fmt.Errorf("resolver: invalid identifier uri")
	ErrHTTPSRequired        = fmt.Errorf("resolver: https required")
	ErrDocumentTooLarge     = fmt.Errorf("resolver: document exceeds maximum size")
	ErrTimeout              = fmt.Errorf("resolver: request timed out")
	ErrFetchFailed          = fmt.Errorf("resolver: upstream fetch failed")
	ErrInvalidDocument      = fmt.Errorf("resolver: invalid document structure")
	ErrNoVerificationMethod = fmt.Errorf("resolver: no matching verification method")
)

// VerificationMethod mirrors spec §3.
type VerificationMethod struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Controller   string          `json:"controller"`
	PublicKeyJWK json.RawMessage `json:"publicKeyJwk"`
}

// CIDDoc mirrors the Controlled Identifier Document structure in spec §3.
type CIDDoc struct {
	Context        []string             `json:"@context,omitempty"`
	ID             string               `json:"id"`
	Authentication []VerificationMethod `json:"authentication"`
	Service        []json.RawMessage    `json:"service,omitempty"`
}

// Options configures resolver behavior per spec §6 "Configuration inputs".
type Options struct {
	HTTPSOnly    bool
	MaxBytes     int64
	FetchTimeout time.Duration
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	MinTTL       time.Duration
}

// Resolver fetches and caches CID documents.
type Resolver struct {
	opts   Options
	cache  cache.Cache
	client *http.Client
}

// New constructs a Resolver backed by the given document cache.
func New(opts Options, docCache cache.Cache) *Resolver {
	return &Resolver{
		opts:  opts,
		cache: docCache,
		client: &http.Client{
			Timeout: opts.FetchTimeout,
		},
	}
}

// ResolveCID implements resolve_cid(uri) → CIDDoc (spec §4.1), consulting
// the document cache before issuing a network fetch.
func (r *Resolver) ResolveCID(ctx context.Context, uri string) (CIDDoc, error) {
	if cached, ok, err := r.cache.Get(ctx, "ciddoc:"+uri); err == nil && ok {
		var doc CIDDoc
		if jsonErr := json.Unmarshal(cached, &doc); jsonErr == nil {
			return doc, nil
		}
	}

	parsed, err := url.Parse(uri)
	if err != nil || !parsed.IsAbs() {
		return CIDDoc{}, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}

	switch parsed.Scheme {
	case "https":
		// always allowed
	case "http":
		if r.opts.HTTPSOnly && !isLoopbackHost(parsed.Hostname()) {
			return CIDDoc{}, fmt.Errorf("%w: %s", ErrHTTPSRequired, uri)
		}
	default:
		return CIDDoc{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, parsed.Scheme)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, uri, nil)
	if err != nil {
		return CIDDoc{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	req.Header.Set("Accept", "application/ld+json, application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := fetchCtx.Err(); ctxErr != nil {
			return CIDDoc{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return CIDDoc{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CIDDoc{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, r.opts.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return CIDDoc{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > r.opts.MaxBytes {
		return CIDDoc{}, fmt.Errorf("%w: exceeds %d bytes", ErrDocumentTooLarge, r.opts.MaxBytes)
	}

	var doc CIDDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return CIDDoc{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := validateCIDDoc(doc, uri); err != nil {
		return CIDDoc{}, err
	}

	ttl := deriveTTL(resp.Header.Get("Cache-Control"), r.opts)
	if encoded, mErr := json.Marshal(doc); mErr == nil {
		_ = r.cache.Put(ctx, "ciddoc:"+uri, encoded, ttl)
	}

	return doc, nil
}

// validateCIDDoc enforces the structural invariants of spec §3.
func validateCIDDoc(doc CIDDoc, fetchedAs string) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	if parsed, err := url.Parse(doc.ID); err != nil || !parsed.IsAbs() {
		return fmt.Errorf("%w: id is not an absolute uri", ErrInvalidDocument)
	}
	if doc.ID != fetchedAs {
		return fmt.Errorf("%w: id %q does not match fetched uri %q", ErrInvalidDocument, doc.ID, fetchedAs)
	}
	for i, vm := range doc.Authentication {
		if vm.Controller != doc.ID {
			return fmt.Errorf("%w: authentication[%d].controller != id", ErrInvalidDocument, i)
		}
		var jwk jwkutil.PublicKeyJWK
		if err := json.Unmarshal(vm.PublicKeyJWK, &jwk); err != nil {
			return fmt.Errorf("%w: authentication[%d].publicKeyJwk invalid: %v", ErrInvalidDocument, i, err)
		}
		wantSuffixed := doc.ID + "#" + jwk.Kid
		if vm.ID != wantSuffixed && vm.ID != jwk.Kid {
			return fmt.Errorf("%w: authentication[%d].id does not match kid convention", ErrInvalidDocument, i)
		}
	}
	return nil
}

// VerificationMethodByKid implements verification_method(cid_doc, kid)
// (spec §4.1), returning jwkutil.ErrUnsupportedKeyType-free errors; a miss is
// reported as ErrNoVerificationMethod.
func VerificationMethodByKid(doc CIDDoc, kid string) (VerificationMethod, error) {
	suffixed := doc.ID + "#" + kid
	for _, vm := range doc.Authentication {
		if vm.ID == suffixed {
			return vm, nil
		}
	}
	for _, vm := range doc.Authentication {
		if vm.ID == kid {
			return vm, nil
		}
	}
	for _, vm := range doc.Authentication {
		var jwk jwkutil.PublicKeyJWK
		if err := json.Unmarshal(vm.PublicKeyJWK, &jwk); err == nil && jwk.Kid == kid {
			return vm, nil
		}
	}
	return VerificationMethod{}, fmt.Errorf("%w: kid %q", ErrNoVerificationMethod, kid)
}

// ResolveCIDKey fetches the CID document at sub and returns the
// verification key for kid, composing ResolveCID + VerificationMethodByKid +
// jwkutil.ParsePublicJWK — the path used by the SSI-CID validator (spec
// §4.4).
func (r *Resolver) ResolveCIDKey(ctx context.Context, sub, kid string) (jwkutil.Key, error) {
	doc, err := r.ResolveCID(ctx, sub)
	if err != nil {
		return jwkutil.Key{}, err
	}
	vm, err := VerificationMethodByKid(doc, kid)
	if err != nil {
		return jwkutil.Key{}, err
	}
	return jwkutil.ParsePublicJWK(vm.PublicKeyJWK)
}

// ResolveDIDKey implements resolve_did_key(did) → JWK (spec §4.1), a thin
// delegation to the didkey package so callers only depend on resolver.
func ResolveDIDKey(did string) (jwkutil.Key, error) {
	return didkey.Resolve(did)
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// deriveTTL implements spec §4.2's TTL derivation: min(upstream max-age,
// configured max), clamped to a configured minimum, falling back to the
// configured default when upstream provides no cacheability hint.
func deriveTTL(cacheControl string, opts Options) time.Duration {
	ttl := opts.DefaultTTL
	if maxAge, ok := parseMaxAge(cacheControl); ok {
		upstream := time.Duration(maxAge) * time.Second
		if upstream < ttl || cacheControl != "" {
			ttl = upstream
		}
	}
	if opts.MaxTTL > 0 && ttl > opts.MaxTTL {
		ttl = opts.MaxTTL
	}
	if opts.MinTTL > 0 && ttl < opts.MinTTL {
		ttl = opts.MinTTL
	}
	return ttl
}

func parseMaxAge(cacheControl string) (int64, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		var seconds int64
		if _, err := fmt.Sscanf(directive, "max-age=%d", &seconds); err == nil {
			return seconds, true
		}
	}
	return 0, false
}
