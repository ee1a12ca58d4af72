package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/jeswr/lws-core/internal/exchange"
	"github.com/jeswr/lws-core/internal/jwkutil"
	appmiddleware "github.com/jeswr/lws-core/internal/middleware"
)

// AuthServerConfig carries everything the AS router needs beyond the
// exchange handler itself: the discovery metadata and the public half of
// the signing key set for GET /jwks.
type AuthServerConfig struct {
	Issuer                     string
	TokenPath                  string
	PublicKeys                 []jwkutil.Key
	SubjectTokenTypesSupported []string
}

// NewAuthServerRouter builds the chi router serving POST /token, GET
// /.well-known/lws-configuration, and GET /jwks (spec §6).
func NewAuthServerRouter(handler *exchange.Handler, cfg AuthServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.SecurityHeaders)
	r.Use(cors.AllowAll().Handler)

	r.Post(cfg.TokenPath, tokenHandler(handler))
	r.Get("/.well-known/lws-configuration", wellKnownConfigHandler(cfg))
	r.Get("/jwks", jwksHandler(cfg))

	return r
}

func tokenHandler(handler *exchange.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErrorJSON(w, http.StatusBadRequest, string(exchange.ErrorInvalidRequest), "could not parse form body")
			return
		}

		req := exchange.Request{
			GrantType:          r.FormValue("grant_type"),
			SubjectToken:       r.FormValue("subject_token"),
			SubjectTokenType:   r.FormValue("subject_token_type"),
			Resource:           r.FormValue("resource"),
			RequestedTokenType: r.FormValue("requested_token_type"),
			Scope:              r.FormValue("scope"),
		}

		resp, exErr := handler.Exchange(r.Context(), req)
		if exErr != nil {
			status := http.StatusBadRequest
			writeErrorJSON(w, status, string(exErr.Code), exErr.Description)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func wellKnownConfigHandler(cfg AuthServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                        cfg.Issuer,
			"token_endpoint":                cfg.Issuer + cfg.TokenPath,
			"jwks_uri":                      cfg.Issuer + "/jwks",
			"grant_types_supported":         []string{exchange.GrantType},
			"subject_token_types_supported": cfg.SubjectTokenTypesSupported,
		})
	}
}

func jwksHandler(cfg AuthServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks := make([]jwkutil.PublicKeyJWK, 0, len(cfg.PublicKeys))
		for _, k := range cfg.PublicKeys {
			jwks = append(jwks, k.ToPublicKeyJWK())
		}
		// Cache-Control lets resolvers/validators derive a TTL the same way
		// they do for CID documents (spec §4.2).
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, map[string]any{"keys": jwks})
	}
}
