package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeswr/lws-core/internal/cache"
	"github.com/jeswr/lws-core/internal/resolver"
)

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func buildUnsignedParts(header, payload map[string]any) (string, string) {
	h, _ := json.Marshal(header)
	p, _ := json.Marshal(payload)
	return b64url(h), b64url(p)
}

func signEd25519(priv ed25519.PrivateKey, signingInput string) string {
	sig := ed25519.Sign(priv, []byte(signingInput))
	return signingInput + "." + b64url(sig)
}

func signES256(priv *ecdsa.PrivateKey, signingInput string) string {
	h := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, priv, h[:])
	if err != nil {
		panic(err)
	}
	rb := padTo32(r.Bytes())
	sb := padTo32(s.Bytes())
	sig := append(rb, sb...)
	return signingInput + "." + b64url(sig)
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func defaultOpts(realm string) Options {
	return Options{Realm: realm, ClockSkewTolerance: 60 * time.Second}
}

func TestSelfIssuedValidatorDIDKeyHappyPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	multicodecPrefixed := append([]byte{0xED, 0x01}, pub...)
	did := mustDIDKey(t, multicodecPrefixed)

	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": "EdDSA", "kid": "k1"},
		map[string]any{
			"sub": did, "iss": did, "client_id": did,
			"aud": "https://as.example", "iat": now, "exp": now + 300, "jti": "abc123",
		},
	)
	token := signEd25519(priv, header+"."+payload)

	v := &SelfIssuedValidator{}
	principal, err := v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	require.NoError(t, err)
	assert.Equal(t, did, principal.Subject)
	assert.Equal(t, SuiteSSIDIDKey, principal.AuthSuite)
	assert.Equal(t, "abc123", principal.SubjectTokenID)
}

func TestSelfIssuedValidatorSelfIssuedMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	multicodecPrefixed := append([]byte{0xED, 0x01}, pub...)
	did := mustDIDKey(t, multicodecPrefixed)

	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": "EdDSA", "kid": "k1"},
		map[string]any{
			"sub": did, "iss": did, "client_id": "did:key:zOther",
			"aud": "https://as.example", "iat": now, "exp": now + 300, "jti": "abc123",
		},
	)
	token := signEd25519(priv, header+"."+payload)

	v := &SelfIssuedValidator{}
	_, err = v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeSelfIssuedMismatch, valErr.Code)
}

func TestSelfIssuedValidatorCIDHappyPath(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	var docID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		jwk := map[string]string{
			"kty": "EC", "crv": "P-256", "alg": "ES256", "kid": "k1",
			"x": b64url(padTo32(priv.PublicKey.X.Bytes())),
			"y": b64url(padTo32(priv.PublicKey.Y.Bytes())),
		}
		jwkRaw, _ := json.Marshal(jwk)
		doc := resolver.CIDDoc{
			ID: docID,
			Authentication: []resolver.VerificationMethod{
				{ID: docID + "#k1", Controller: docID, PublicKeyJWK: jwkRaw},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()
	docID = srv.URL + "/issuer"

	res := resolver.New(resolver.Options{
		MaxBytes: 10240, FetchTimeout: 2 * time.Second,
		DefaultTTL: time.Hour, MaxTTL: time.Hour, MinTTL: time.Second,
	}, cache.New("", "test"))

	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": "ES256", "kid": "k1"},
		map[string]any{
			"sub": docID, "iss": docID, "client_id": docID,
			"aud": "https://as.example", "iat": now, "exp": now + 300, "jti": "abc123",
		},
	)
	token := signES256(priv, header+"."+payload)

	v := &SelfIssuedValidator{Resolver: res}
	principal, err := v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	require.NoError(t, err)
	assert.Equal(t, docID, principal.Subject)
	assert.Equal(t, SuiteSSICID, principal.AuthSuite)
}

func TestOpenIDValidatorHappyPath(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": issuer + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		jwk := map[string]string{
			"kty": "EC", "crv": "P-256", "alg": "ES256", "kid": "as-key-1",
			"x": b64url(padTo32(priv.PublicKey.X.Bytes())),
			"y": b64url(padTo32(priv.PublicKey.Y.Bytes())),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{jwk}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuer = srv.URL

	jwksClient := NewOpenIDJWKSClient(cache.New("", "test"), 2*time.Second, time.Hour)

	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": "ES256", "kid": "as-key-1"},
		map[string]any{
			"sub": "alice", "iss": issuer, "azp": "https://client",
			"aud": []any{"https://as.example", "https://client"},
			"iat": now, "exp": now + 300,
		},
	)
	token := signES256(priv, header+"."+payload)

	v := &OpenIDValidator{JWKSClient: jwksClient}
	principal, err := v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Subject)
	assert.Equal(t, "https://client", principal.ClientID)
	assert.Equal(t, SuiteOpenID, principal.AuthSuite)
}

func TestValidateRejectsAlgNone(t *testing.T) {
	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": "none"},
		map[string]any{"sub": "x", "iss": "x", "client_id": "x", "aud": "y", "iat": now, "exp": now + 300, "jti": "j"},
	)
	token := header + "." + payload + "."

	v := &SelfIssuedValidator{}
	_, err := v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeDisallowedAlg, valErr.Code)
}

func TestValidateRejectsAlgNoneCaseVariants(t *testing.T) {
	now := time.Now().Unix()
	header, payload := buildUnsignedParts(
		map[string]any{"alg": " NoNe "},
		map[string]any{"sub": "x", "iss": "x", "client_id": "x", "aud": "y", "iat": now, "exp": now + 300, "jti": "j"},
	)
	token := header + "." + payload + "."

	v := &SelfIssuedValidator{}
	_, err := v.Validate(context.Background(), token, defaultOpts("https://as.example"))
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeDisallowedAlg, valErr.Code)
}

func TestValidateClockSkew(t *testing.T) {
	v := &SelfIssuedValidator{}
	now := time.Now().Unix()

	header, payload := buildUnsignedParts(
		map[string]any{"alg": "EdDSA"},
		map[string]any{"sub": "x", "iss": "x", "client_id": "x", "aud": "y", "iat": now, "exp": now - 90, "jti": "j"},
	)
	token := header + "." + payload + ".sig"
	_, err := v.Validate(context.Background(), token, defaultOpts("y"))
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeTokenExpired, valErr.Code)

	header, payload = buildUnsignedParts(
		map[string]any{"alg": "EdDSA"},
		map[string]any{"sub": "x", "iss": "x", "client_id": "x", "aud": "y", "iat": now + 3600, "exp": now + 4000, "jti": "j"},
	)
	token = header + "." + payload + ".sig"
	_, err = v.Validate(context.Background(), token, defaultOpts("y"))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeInvalidIat, valErr.Code)
}

func TestMalformedTokenRejected(t *testing.T) {
	v := &SelfIssuedValidator{}
	_, err := v.Validate(context.Background(), "not-a-jwt", defaultOpts("y"))
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, CodeMalformed, valErr.Code)
}

func mustDIDKey(t *testing.T, prefixed []byte) string {
	t.Helper()
	enc, err := multibase.Encode(multibase.Base58BTC, prefixed)
	require.NoError(t, err)
	return "did:key:" + enc
}
