package exchange

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeswr/lws-core/internal/accesstoken"
	"github.com/jeswr/lws-core/internal/jwkutil"
	"github.com/jeswr/lws-core/internal/validator"
)

type fakeValidator struct {
	principal validator.Principal
	err       error
}

func (f *fakeValidator) Validate(ctx context.Context, token string, opts validator.Options) (validator.Principal, error) {
	if f.err != nil {
		return validator.Principal{}, f.err
	}
	return f.principal, nil
}

func testHandler(t *testing.T, tokenType string, v validator.Validator) *Handler {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubJWK, err := jwkutil.FromPublicKeyJWK(jwkutil.PublicKeyJWK{
		Kty: jwkutil.KtyOKP, Crv: jwkutil.CrvEd25519, Alg: jwkutil.AlgEdDSA, Kid: "as-key-1",
		X: base64.RawURLEncoding.EncodeToString(pub),
	})
	require.NoError(t, err)
	key := accesstoken.SigningKey{Kid: "as-key-1", Alg: jwkutil.AlgEdDSA, Private: priv, Public: pubJWK}

	reg := validator.NewRegistryFrom(map[string]validator.Validator{tokenType: v})

	return &Handler{
		Registry:           reg,
		Minter:             &accesstoken.Minter{Issuer: "https://as.example", Key: key, DefaultLifetime: 300 * time.Second},
		Realm:              "https://as.example",
		ClockSkewTolerance: 60 * time.Second,
	}
}

func TestExchangeHappyPath(t *testing.T) {
	v := &fakeValidator{principal: validator.Principal{Subject: "alice", ClientID: "https://client", AuthSuite: "openid"}}
	h := testHandler(t, "urn:ietf:params:oauth:token-type:id_token", v)

	resp, exErr := h.Exchange(context.Background(), Request{
		GrantType:        GrantType,
		SubjectToken:     "whatever",
		SubjectTokenType: "urn:ietf:params:oauth:token-type:id_token",
		Resource:         "http://localhost:3001/storage",
	})
	require.Nil(t, exErr)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(300), resp.ExpiresIn)
}

func TestExchangeRejectsUnknownGrantType(t *testing.T) {
	h := testHandler(t, "x", &fakeValidator{})
	_, exErr := h.Exchange(context.Background(), Request{GrantType: "something-else", Resource: "http://localhost:3001/storage"})
	require.NotNil(t, exErr)
	assert.Equal(t, ErrorInvalidRequest, exErr.Code)
}

func TestExchangeRejectsUnsupportedSubjectTokenType(t *testing.T) {
	h := testHandler(t, "x", &fakeValidator{})
	_, exErr := h.Exchange(context.Background(), Request{
		GrantType: GrantType, SubjectTokenType: "unknown-type", Resource: "http://localhost:3001/storage",
	})
	require.NotNil(t, exErr)
	assert.Equal(t, ErrorInvalidRequest, exErr.Code)
}

func TestExchangePropagatesValidatorFailureAsInvalidGrant(t *testing.T) {
	v := &fakeValidator{err: assertError("boom")}
	h := testHandler(t, "urn:ietf:params:oauth:token-type:jwt", v)
	_, exErr := h.Exchange(context.Background(), Request{
		GrantType: GrantType, SubjectTokenType: "urn:ietf:params:oauth:token-type:jwt", Resource: "http://localhost:3001/storage",
	})
	require.NotNil(t, exErr)
	assert.Equal(t, ErrorInvalidGrant, exErr.Code)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
