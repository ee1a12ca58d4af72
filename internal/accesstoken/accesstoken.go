// Package accesstoken mints and validates LWS access tokens (spec §4.5 mint
// half, §4.6 validate, component C5/C6). Minting and validation share the
// same claim-set shape and lifetime cap so the two halves stay consistent.
package accesstoken

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/jeswr/lws-core/internal/jwkutil"
	"github.com/jeswr/lws-core/internal/replay"
)

// HardCapLifetimeSeconds is the absolute ceiling on exp-iat, enforced at
// both issuance and validation (spec §3, §4.5, §4.6, §8).
const HardCapLifetimeSeconds = 300

// Claims is the access-token claim set of spec §3.
type Claims struct {
	Issuer         string `json:"iss"`
	Subject        string `json:"sub"`
	ClientID       string `json:"client_id"`
	Audience       string `json:"aud"`
	IssuedAt       int64  `json:"iat"`
	Expiry         int64  `json:"exp"`
	JTI            string `json:"jti"`
	AuthSuite      string `json:"auth_suite"`
	SubjectTokenID string `json:"subject_token_id,omitempty"`
}

// SigningKey is the authorization server's current signing key, holding
// both halves so one type serves mint and validate.
type SigningKey struct {
	Kid     string
	Alg     string
	Private ed25519.PrivateKey
	Public  jwkutil.Key
}

// Minter mints access tokens from a validated Principal (spec §4.5 steps
// 4-6).
type Minter struct {
	Issuer          string
	Key             SigningKey
	DefaultLifetime time.Duration
}

// MintInput carries exactly the fields the minter needs from the exchange
// handler, decoupling accesstoken from validator.Principal.
type MintInput struct {
	Subject        string
	ClientID       string
	Resource       string
	AuthSuite      string
	SubjectTokenID string
}

// Mint implements spec §4.5 steps 4-6: lifetime = min(300,
// realm_default_lifespan), fresh UUIDv4 jti, single-string aud, signs with
// the AS's current key.
func (m *Minter) Mint(in MintInput) (token string, expiresIn int64, err error) {
	lifetime := m.DefaultLifetime
	if lifetime <= 0 || lifetime > HardCapLifetimeSeconds*time.Second {
		lifetime = HardCapLifetimeSeconds * time.Second
	}
	now := time.Now().Unix()
	exp := now + int64(lifetime.Seconds())

	claims := Claims{
		Issuer:         m.Issuer,
		Subject:        in.Subject,
		ClientID:       in.ClientID,
		Audience:       in.Resource,
		IssuedAt:       now,
		Expiry:         exp,
		JTI:            uuid.NewString(),
		AuthSuite:      in.AuthSuite,
		SubjectTokenID: in.SubjectTokenID,
	}

	token, err = sign(m.Key, claims)
	if err != nil {
		return "", 0, err
	}
	return token, exp - now, nil
}

// sign signs claims with go-jose, the same library the teacher signs its
// own JWTs with (access tokens are always EdDSA, so no per-alg branching is
// needed here).
func sign(key SigningKey, claims Claims) (string, error) {
	if key.Alg != jwkutil.AlgEdDSA {
		return "", fmt.Errorf("accesstoken: unsupported signing alg %q", key.Alg)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.EdDSA, Key: key.Private},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.Kid),
	)
	if err != nil {
		return "", fmt.Errorf("accesstoken: create signer: %w", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("accesstoken: sign claims: %w", err)
	}
	return token, nil
}

// Validator errors, mirroring spec §4.6 and the resource-access error
// surface of §7.
var (
	ErrInvalidToken     = fmt.Errorf("accesstoken: invalid token")
	ErrInvalidSignature = fmt.Errorf("accesstoken: invalid signature")
	ErrMissingClaim     = fmt.Errorf("accesstoken: missing claim")
	ErrInvalidIssuer    = fmt.Errorf("accesstoken: invalid issuer")
	ErrLifetimeExceeded = fmt.Errorf("accesstoken: lifetime exceeded")
	ErrTokenExpired     = fmt.Errorf("accesstoken: token expired")
	ErrInvalidIat       = fmt.Errorf("accesstoken: invalid iat")
	ErrInvalidAudience  = fmt.Errorf("accesstoken: invalid audience")
	ErrTokenReplay      = fmt.Errorf("accesstoken: token replay")
)

// Action is the HTTP-method-derived action tag of spec §4.6 step 9.
type Action string

const (
	ActionRead   Action = "Read"
	ActionCreate Action = "Create"
	ActionUpdate Action = "Update"
	ActionAppend Action = "Append"
	ActionDelete Action = "Delete"
)

// MethodToAction implements the table in spec §4.6 step 9.
func MethodToAction(method string) (Action, bool) {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return ActionRead, true
	case "PUT":
		return ActionUpdate, true
	case "POST":
		return ActionCreate, true
	case "PATCH":
		return ActionAppend, true
	case "DELETE":
		return ActionDelete, true
	default:
		return "", false
	}
}

// ValidatedRequest is emitted to the storage collaborator on success (spec
// §4.6).
type ValidatedRequest struct {
	PrincipalSubject string
	ClientID         string
	Action           Action
	ResourcePath     string
}

// Validator verifies access tokens end-to-end (spec §4.6).
type Validator struct {
	Realm              string
	ClockSkewTolerance time.Duration
	JWKSByKid          func(kid string) (jwkutil.Key, bool)
	Replay             replay.Store
}

// accessTokenAlgorithms is the sole algorithm the authorization server ever
// mints with; parsing rejects anything else, including alg=none.
var accessTokenAlgorithms = []jose.SignatureAlgorithm{jose.EdDSA}

// Validate runs the nine ordered steps of spec §4.6; any failure
// short-circuits.
func (v *Validator) Validate(ctx context.Context, token string, method string, resource string) (ValidatedRequest, error) {
	parsed, err := jwt.ParseSigned(token, accessTokenAlgorithms)
	if err != nil {
		return ValidatedRequest{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(parsed.Headers) != 1 {
		return ValidatedRequest{}, ErrInvalidToken
	}
	kid := parsed.Headers[0].KeyID

	// Step 2: resolve the signing key and verify signature.
	key, ok := v.JWKSByKid(kid)
	if !ok {
		return ValidatedRequest{}, fmt.Errorf("%w: unknown kid %q", ErrInvalidSignature, kid)
	}
	pub, ok := key.CryptoPublicKey()
	if !ok {
		return ValidatedRequest{}, fmt.Errorf("%w: key %q has no EdDSA public key", ErrInvalidSignature, kid)
	}
	var claims Claims
	if err := parsed.Claims(pub, &claims); err != nil {
		return ValidatedRequest{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// Step 3: required claims.
	if claims.Subject == "" || claims.Issuer == "" || claims.Audience == "" || claims.Expiry == 0 || claims.IssuedAt == 0 || claims.JTI == "" {
		return ValidatedRequest{}, ErrMissingClaim
	}

	// Step 4: issuer must equal the configured realm.
	if claims.Issuer != v.Realm {
		return ValidatedRequest{}, fmt.Errorf("%w: %q != %q", ErrInvalidIssuer, claims.Issuer, v.Realm)
	}

	// Step 5: lifetime cap, re-enforced at validation.
	if claims.Expiry-claims.IssuedAt > HardCapLifetimeSeconds {
		return ValidatedRequest{}, ErrLifetimeExceeded
	}

	// Step 6: expiry / iat checks with skew tolerance.
	now := time.Now().Unix()
	skew := int64(v.ClockSkewTolerance.Seconds())
	if claims.Expiry < now-skew {
		return ValidatedRequest{}, ErrTokenExpired
	}
	if claims.IssuedAt > now+skew {
		return ValidatedRequest{}, ErrInvalidIat
	}

	// Step 7: audience containment.
	if err := checkAudienceContainment(claims.Audience, resource); err != nil {
		return ValidatedRequest{}, err
	}

	// Step 8: replay check-and-mark, atomic.
	ttl := time.Duration(claims.Expiry-now) * time.Second
	if ttl <= 0 {
		ttl = time.Second
	}
	claimed, err := v.Replay.Claim(ctx, claims.JTI, ttl)
	if err != nil {
		return ValidatedRequest{}, fmt.Errorf("accesstoken: replay store error: %w", err)
	}
	if !claimed {
		return ValidatedRequest{}, ErrTokenReplay
	}

	// Step 9: method -> action.
	action, ok := MethodToAction(method)
	if !ok {
		return ValidatedRequest{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidToken, method)
	}

	resourceURL, err := url.Parse(resource)
	if err != nil {
		return ValidatedRequest{}, fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	}

	return ValidatedRequest{
		PrincipalSubject: claims.Subject,
		ClientID:         claims.ClientID,
		Action:           action,
		ResourcePath:     resourceURL.Path,
	}, nil
}

// checkAudienceContainment implements spec §4.6 step 7: aud and resource
// must share origin, and resource's path must equal or descend from aud's
// path, after normalising (lowercase scheme/host, no default port, no
// trailing slash except root).
func checkAudienceContainment(aud, resource string) error {
	a, err := normalise(aud)
	if err != nil {
		return fmt.Errorf("%w: invalid aud: %v", ErrInvalidAudience, err)
	}
	r, err := normalise(resource)
	if err != nil {
		return fmt.Errorf("%w: invalid resource: %v", ErrInvalidAudience, err)
	}
	if a.origin != r.origin {
		return fmt.Errorf("%w: origin mismatch %q != %q", ErrInvalidAudience, r.origin, a.origin)
	}
	if r.path == a.path || strings.HasPrefix(r.path, a.path+"/") {
		return nil
	}
	return fmt.Errorf("%w: resource path %q does not descend from audience path %q", ErrInvalidAudience, r.path, a.path)
}

type normalisedURI struct {
	origin string
	path   string
}

func normalise(raw string) (normalisedURI, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return normalisedURI{}, fmt.Errorf("not an absolute uri")
	}
	host := strings.ToLower(u.Hostname())
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	origin := scheme + "://" + host
	if port != "" {
		origin += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	path = cleanPath(path)
	return normalisedURI{origin: origin, path: path}, nil
}

// cleanPath resolves "." and ".." segments so a constructed escape like
// aud + "/.." cannot slip past the prefix check in checkAudienceContainment.
func cleanPath(p string) string {
	segments := strings.Split(p, "/")
	var out []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}
