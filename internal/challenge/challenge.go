// Package challenge implements the resource-server challenge middleware
// (spec §4.7, component C7): the WWW-Authenticate response and the request
// state machine that either forwards a ValidatedRequest or rejects with 401.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeswr/lws-core/internal/accesstoken"
)

// Challenge describes the WWW-Authenticate parameters of spec §4.7.
type Challenge struct {
	AuthorizationServerURI string
	StorageRealm           string
}

// Header renders the Bearer challenge, optionally carrying an error code
// when a token was presented but failed (spec §4.7).
func (c Challenge) Header(errorCode string) string {
	h := fmt.Sprintf("Bearer as_uri=%q, realm=%q", c.AuthorizationServerURI, c.StorageRealm)
	if errorCode != "" {
		h += fmt.Sprintf(`, error="%s"`, errorCode)
	}
	return h
}

// Metadata is the body returned at the well-known discovery endpoint (spec
// §4.7 "returned at the well-known metadata endpoint for discovery").
type Metadata struct {
	ASUri string `json:"as_uri"`
	Realm string `json:"realm"`
}

func (c Challenge) Metadata() Metadata {
	return Metadata{ASUri: c.AuthorizationServerURI, Realm: c.StorageRealm}
}

// errorCode maps an accesstoken validation failure to the resource-access
// error taxonomy of spec §7.
func errorCode(err error) string {
	switch {
	case errors.Is(err, accesstoken.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, accesstoken.ErrTokenReplay):
		return "token_replay"
	case errors.Is(err, accesstoken.ErrInvalidAudience):
		return "invalid_audience"
	case errors.Is(err, accesstoken.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, accesstoken.ErrMissingClaim):
		return "missing_claim"
	default:
		return "invalid_token"
	}
}

// Middleware builds an http.Handler wrapper implementing the state machine
// of spec §4.7: parse Bearer, validate (§4.6), forward or 401.
type Middleware struct {
	Challenge Challenge
	Validator *accesstoken.Validator
}

type validatedRequestKey struct{}

// FromContext retrieves the ValidatedRequest a successful Middleware pass
// attached to the request context.
func FromContext(r *http.Request) (accesstoken.ValidatedRequest, bool) {
	vr, ok := r.Context().Value(validatedRequestKey{}).(accesstoken.ValidatedRequest)
	return vr, ok
}

// Wrap implements the request state machine diagrammed in spec §4.7.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			m.reject(w, "invalid_token")
			return
		}
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			m.reject(w, "invalid_token")
			return
		}
		token := strings.TrimPrefix(authz, prefix)

		resource := requestURI(r)
		vr, err := m.Validator.Validate(r.Context(), token, r.Method, resource)
		if err != nil {
			m.reject(w, errorCode(err))
			return
		}

		ctx := context.WithValue(r.Context(), validatedRequestKey{}, vr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, code string) {
	w.Header().Set("WWW-Authenticate", m.Challenge.Header(code))
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}

// requestURI reconstructs the full resource URI a request targets. The
// scheme is "https" when the connection used TLS and "http" otherwise,
// overridden by an X-Forwarded-Proto header when one is present (TLS
// termination is out of scope per spec §1).
func requestURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}
