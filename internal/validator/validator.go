// Package validator implements the subject-token validators (spec §4.4,
// component C4): one per authentication suite, sharing common pre-checks and
// a single error taxonomy, each producing a normalised Principal on success.
package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/jeswr/lws-core/internal/didkey"
	"github.com/jeswr/lws-core/internal/jwkutil"
	"github.com/jeswr/lws-core/internal/resolver"
)

// Token type URIs recognized by the registry (spec §4.4).
const (
	TokenTypeOpenIDIDToken = "urn:ietf:params:oauth:token-type:id_token"
	TokenTypeJWT           = "urn:ietf:params:oauth:token-type:jwt"
)

// Auth suite tags carried on the normalised Principal.
const (
	SuiteOpenID    = "openid"
	SuiteSSICID    = "ssi-cid"
	SuiteSSIDIDKey = "ssi-did-key"
)

// Code enumerates the single error taxonomy shared by all validators (spec
// §4.4 "Errors").
type Code string

const (
	CodeMalformed          Code = "MALFORMED"
	CodeDisallowedAlg      Code = "DISALLOWED_ALG"
	CodeMissingClaim       Code = "MISSING_CLAIM"
	CodeInvalidIssuer      Code = "INVALID_ISSUER"
	CodeInvalidAudience    Code = "INVALID_AUDIENCE"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeInvalidIat         Code = "INVALID_IAT"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeKeyNotFound        Code = "KEY_NOT_FOUND"
	CodeSelfIssuedMismatch Code = "SELF_ISSUED_MISMATCH"
	CodeAlgKeyMismatch     Code = "ALG_KEY_MISMATCH"
)

// Error is a structured validator failure carrying its taxonomy code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Principal is the normalised identity view produced by every validator
// (spec §3).
type Principal struct {
	Subject        string
	Issuer         string
	ClientID       string
	AuthSuite      string
	SubjectTokenID string
}

// Options carries the realm and clock-skew tolerance every validator needs.
type Options struct {
	Realm              string
	ClockSkewTolerance time.Duration
}

// Validator is the shared capability contract (spec §9 "Pluggable validator
// set"): validate(token, realm) → Principal or Error.
type Validator interface {
	Validate(ctx context.Context, token string, opts Options) (Principal, error)
}

// Registry dispatches to a Validator by subject_token_type URI.
type Registry struct {
	byType map[string]Validator
}

// NewRegistry builds the standard three-suite registry.
func NewRegistry(res *resolver.Resolver, jwksClient *OpenIDJWKSClient) *Registry {
	return &Registry{
		byType: map[string]Validator{
			TokenTypeOpenIDIDToken: &OpenIDValidator{JWKSClient: jwksClient},
			TokenTypeJWT:           &SelfIssuedValidator{Resolver: res},
		},
	}
}

// NewRegistryFrom builds a Registry from an explicit type->Validator map,
// used by tests and by callers wiring a non-standard validator set.
func NewRegistryFrom(byType map[string]Validator) *Registry {
	return &Registry{byType: byType}
}

// Lookup returns the validator registered for tokenType, or false if none.
func (r *Registry) Lookup(tokenType string) (Validator, bool) {
	v, ok := r.byType[tokenType]
	return v, ok
}

// jwtEnvelopeAlgorithms is the alg set the envelope parse accepts
// structurally; alg=none is intercepted by peekHeaderAlg below and never
// reaches go-jose at all.
var jwtEnvelopeAlgorithms = []jose.SignatureAlgorithm{
	jose.EdDSA, jose.ES256, jose.SignatureAlgorithm(jwkutil.AlgES256K),
}

// parsedJWT is the result of the common pre-checks shared by all suites.
type parsedJWT struct {
	raw       string
	headerAlg string
	headerKid string
	payload   map[string]any
}

// parseAndPreCheck implements spec §4.4 "Common pre-checks": exactly three
// base64url segments, alg != none, and iat/exp temporal bounds. The envelope
// (header/payload decoding) goes through go-jose; only the later secp256k1
// signature check falls back to jwkutil directly, since go-jose has no
// ES256K verifier.
func parseAndPreCheck(token string, skew time.Duration) (parsedJWT, *Error) {
	// Reject alg=none regardless of case/whitespace variants (spec §8),
	// ahead of go-jose's own parse: go-jose's allowed-algorithm list only
	// does exact string matching, so a whitespace/case variant of "none"
	// would otherwise surface as a generic malformed-envelope error rather
	// than the spec's dedicated DISALLOWED_ALG code.
	if alg, ok := peekHeaderAlg(token); ok && strings.EqualFold(strings.TrimSpace(alg), "none") {
		return parsedJWT{}, newErr(CodeDisallowedAlg, "alg=none is not permitted")
	}

	parsed, err := jwt.ParseSigned(token, jwtEnvelopeAlgorithms)
	if err != nil {
		return parsedJWT{}, newErr(CodeMalformed, "invalid token envelope: %v", err)
	}
	if len(parsed.Headers) != 1 {
		return parsedJWT{}, newErr(CodeMalformed, "token must carry exactly one signature, got %d", len(parsed.Headers))
	}
	header := parsed.Headers[0]

	var payload map[string]any
	if err := parsed.UnsafeClaimsWithoutVerification(&payload); err != nil {
		return parsedJWT{}, newErr(CodeMalformed, "invalid payload json: %v", err)
	}

	iat, ok := claimAsInt64(payload, "iat")
	if !ok {
		return parsedJWT{}, newErr(CodeMissingClaim, "missing iat")
	}
	exp, ok := claimAsInt64(payload, "exp")
	if !ok {
		return parsedJWT{}, newErr(CodeMissingClaim, "missing exp")
	}

	now := time.Now().Unix()
	skewSec := int64(skew.Seconds())
	if exp <= now-skewSec {
		return parsedJWT{}, newErr(CodeTokenExpired, "exp %d has elapsed beyond skew tolerance", exp)
	}
	if iat > now+skewSec {
		return parsedJWT{}, newErr(CodeInvalidIat, "iat %d is in the future beyond skew tolerance", iat)
	}

	return parsedJWT{raw: token, headerAlg: header.Algorithm, headerKid: header.KeyID, payload: payload}, nil
}

// peekHeaderAlg extracts the unverified "alg" header field directly,
// without going through go-jose, solely so alg=none can be classified
// before go-jose's stricter allowed-algorithm check ever runs.
func peekHeaderAlg(token string) (string, bool) {
	segment, _, ok := strings.Cut(token, ".")
	if !ok {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return "", false
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", false
	}
	return header.Alg, true
}

// verifySignature checks parsed's signature under alg/key, routing EdDSA and
// ES256 through go-jose and falling back to jwkutil.Verify only for
// secp256k1 (spec §4.1), the one curve go-jose cannot verify.
func verifySignature(parsed parsedJWT, alg string, key jwkutil.Key) error {
	if alg == jwkutil.AlgES256K {
		parts := strings.Split(parsed.raw, ".")
		if len(parts) != 3 {
			return fmt.Errorf("malformed token")
		}
		sig, err := base64.RawURLEncoding.DecodeString(parts[2])
		if err != nil {
			return fmt.Errorf("invalid signature encoding: %w", err)
		}
		return key.Verify(alg, []byte(parts[0]+"."+parts[1]), sig)
	}

	pub, ok := key.CryptoPublicKey()
	if !ok {
		return fmt.Errorf("key does not support alg %q", alg)
	}
	token, err := jwt.ParseSigned(parsed.raw, jwtEnvelopeAlgorithms)
	if err != nil {
		return err
	}
	var discard map[string]any
	return token.Claims(pub, &discard)
}

func claimAsInt64(payload map[string]any, name string) (int64, bool) {
	v, ok := payload[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func claimAsString(payload map[string]any, name string) (string, bool) {
	v, ok := payload[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// audienceContains implements the subject-token audience policy of spec
// §4.4: equal for string aud, element-of for array aud.
func audienceContains(payload map[string]any, realm string) bool {
	v, ok := payload["aud"]
	if !ok {
		return false
	}
	switch aud := v.(type) {
	case string:
		return aud == realm
	case []any:
		for _, item := range aud {
			if s, ok := item.(string); ok && s == realm {
				return true
			}
		}
	}
	return false
}

// --- Self-issued suites: SSI-CID and SSI-DID-Key (spec §4.4) ---

// SelfIssuedValidator handles both the SSI-CID and SSI-DID-Key suites: the
// dispatch between them is purely on the form of the sub claim (an https:
// URI vs a did:key: URI), matching spec §4.4's token-type-URI overlap.
type SelfIssuedValidator struct {
	Resolver *resolver.Resolver
}

func (v *SelfIssuedValidator) Validate(ctx context.Context, token string, opts Options) (Principal, error) {
	parsed, perr := parseAndPreCheck(token, opts.ClockSkewTolerance)
	if perr != nil {
		return Principal{}, perr
	}

	sub, ok := claimAsString(parsed.payload, "sub")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing sub")
	}
	iss, ok := claimAsString(parsed.payload, "iss")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing iss")
	}
	clientID, ok := claimAsString(parsed.payload, "client_id")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing client_id")
	}
	jti, ok := claimAsString(parsed.payload, "jti")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing jti")
	}
	if !audienceContains(parsed.payload, opts.Realm) {
		return Principal{}, newErr(CodeInvalidAudience, "aud does not contain realm %q", opts.Realm)
	}

	if sub != iss || sub != clientID {
		return Principal{}, newErr(CodeSelfIssuedMismatch, "sub=%q iss=%q client_id=%q must all match", sub, iss, clientID)
	}

	suite := SuiteSSICID
	var key jwkutil.Key
	var err error
	if strings.HasPrefix(sub, didkey.Prefix) {
		suite = SuiteSSIDIDKey
		key, err = didkey.Resolve(sub)
		if err != nil {
			return Principal{}, newErr(CodeKeyNotFound, "did:key resolution failed: %v", err)
		}
	} else {
		if parsed.headerKid == "" {
			return Principal{}, newErr(CodeMissingClaim, "missing kid header for SSI-CID lookup")
		}
		key, err = v.Resolver.ResolveCIDKey(ctx, sub, parsed.headerKid)
		if err != nil {
			return Principal{}, newErr(CodeKeyNotFound, "CID key lookup failed: %v", err)
		}
	}

	if err := key.CheckAlg(parsed.headerAlg); err != nil {
		return Principal{}, newErr(CodeAlgKeyMismatch, "%v", err)
	}
	if err := verifySignature(parsed, parsed.headerAlg, key); err != nil {
		return Principal{}, newErr(CodeInvalidSignature, "%v", err)
	}

	return Principal{
		Subject:        sub,
		Issuer:         sub,
		ClientID:       sub,
		AuthSuite:      suite,
		SubjectTokenID: jti,
	}, nil
}

// --- OpenID suite (spec §4.4) ---

// OpenIDValidator validates an OpenID Connect ID-token.
type OpenIDValidator struct {
	JWKSClient *OpenIDJWKSClient
}

func (v *OpenIDValidator) Validate(ctx context.Context, token string, opts Options) (Principal, error) {
	parsed, perr := parseAndPreCheck(token, opts.ClockSkewTolerance)
	if perr != nil {
		return Principal{}, perr
	}

	sub, ok := claimAsString(parsed.payload, "sub")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing sub")
	}
	iss, ok := claimAsString(parsed.payload, "iss")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing iss")
	}
	azp, ok := claimAsString(parsed.payload, "azp")
	if !ok {
		return Principal{}, newErr(CodeMissingClaim, "missing azp")
	}
	if !audienceContains(parsed.payload, opts.Realm) {
		return Principal{}, newErr(CodeInvalidAudience, "aud does not contain realm %q", opts.Realm)
	}

	keys, err := v.JWKSClient.Discover(ctx, iss)
	if err != nil {
		return Principal{}, newErr(CodeKeyNotFound, "JWKS discovery for issuer %q failed: %v", iss, err)
	}
	key, err := selectKey(keys, parsed.headerKid)
	if err != nil {
		return Principal{}, newErr(CodeKeyNotFound, "%v", err)
	}

	if err := key.CheckAlg(parsed.headerAlg); err != nil {
		return Principal{}, newErr(CodeAlgKeyMismatch, "%v", err)
	}
	if err := verifySignature(parsed, parsed.headerAlg, key); err != nil {
		return Principal{}, newErr(CodeInvalidSignature, "%v", err)
	}

	return Principal{
		Subject:        sub,
		Issuer:         iss,
		ClientID:       azp,
		AuthSuite:      SuiteOpenID,
		SubjectTokenID: "",
	}, nil
}

// selectKey picks a key by kid, or the sole key if kid is empty and exactly
// one key is present (spec §4.4 "optional if only one key").
func selectKey(keys []jwkutil.Key, kid string) (jwkutil.Key, error) {
	if kid != "" {
		for _, k := range keys {
			if k.Kid == kid {
				return k, nil
			}
		}
		return jwkutil.Key{}, fmt.Errorf("no JWKS key with kid %q", kid)
	}
	if len(keys) == 1 {
		return keys[0], nil
	}
	return jwkutil.Key{}, fmt.Errorf("token has no kid and JWKS has %d keys", len(keys))
}
