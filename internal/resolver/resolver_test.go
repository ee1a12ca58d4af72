package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeswr/lws-core/internal/cache"
)

func testOptions() Options {
	return Options{
		HTTPSOnly:    false,
		MaxBytes:     10240,
		FetchTimeout: 2 * time.Second,
		DefaultTTL:   time.Hour,
		MaxTTL:       time.Hour,
		MinTTL:       time.Second,
	}
}

func jwkFixture(kid string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"kid": kid,
		"x":   "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo",
	})
	return raw
}

func TestResolveCIDHappyPath(t *testing.T) {
	var docID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/ld+json, application/json", req.Header.Get("Accept"))
		doc := CIDDoc{
			ID: docID,
			Authentication: []VerificationMethod{
				{ID: docID + "#key-1", Type: "JsonWebKey", Controller: docID, PublicKeyJWK: jwkFixture("key-1")},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()
	docID = srv.URL + "/issuer"

	r := New(testOptions(), cache.New("", "test"))
	doc, err := r.ResolveCID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, docID, doc.ID)
	assert.Len(t, doc.Authentication, 1)
}

func TestResolveCIDRejectsMismatchedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		doc := CIDDoc{ID: "https://wrong.example/issuer"}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	r := New(testOptions(), cache.New("", "test"))
	_, err := r.ResolveCID(context.Background(), srv.URL+"/issuer")
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestResolveCIDRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(testOptions(), cache.New("", "test"))
	_, err := r.ResolveCID(context.Background(), srv.URL+"/issuer")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestResolveCIDRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 200)))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBytes = 10
	r := New(opts, cache.New("", "test"))
	_, err := r.ResolveCID(context.Background(), srv.URL+"/issuer")
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestResolveCIDCachesAcrossCalls(t *testing.T) {
	hits := 0
	var docID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		doc := CIDDoc{ID: docID}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()
	docID = srv.URL + "/issuer"

	r := New(testOptions(), cache.New("", "test"))
	_, err := r.ResolveCID(context.Background(), docID)
	require.NoError(t, err)
	_, err = r.ResolveCID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second resolution within TTL must be served from cache")
}

func TestVerificationMethodByKidSearchOrder(t *testing.T) {
	doc := CIDDoc{
		ID: "https://issuer.example",
		Authentication: []VerificationMethod{
			{ID: "bare-kid", Controller: "https://issuer.example", PublicKeyJWK: jwkFixture("bare-kid")},
			{ID: "https://issuer.example#suffixed", Controller: "https://issuer.example", PublicKeyJWK: jwkFixture("suffixed")},
			{ID: "https://issuer.example#jwk-only", Controller: "https://issuer.example", PublicKeyJWK: jwkFixture("only-in-jwk")},
		},
	}

	vm, err := VerificationMethodByKid(doc, "suffixed")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example#suffixed", vm.ID)

	vm, err = VerificationMethodByKid(doc, "bare-kid")
	require.NoError(t, err)
	assert.Equal(t, "bare-kid", vm.ID)

	vm, err = VerificationMethodByKid(doc, "only-in-jwk")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example#jwk-only", vm.ID)

	_, err = VerificationMethodByKid(doc, "missing")
	assert.ErrorIs(t, err, ErrNoVerificationMethod)
}

func TestDeriveTTLHonoursMaxAge(t *testing.T) {
	opts := testOptions()
	opts.DefaultTTL = time.Hour
	opts.MaxTTL = time.Hour

	ttl := deriveTTL("max-age=30", opts)
	assert.Equal(t, 30*time.Second, ttl)

	ttl = deriveTTL("", opts)
	assert.Equal(t, time.Hour, ttl, "absence of a cacheability hint must use the configured default")

	opts.MaxTTL = 10 * time.Second
	ttl = deriveTTL("max-age=3600", opts)
	assert.Equal(t, 10*time.Second, ttl, "upstream max-age must be clamped to the configured maximum")
}
