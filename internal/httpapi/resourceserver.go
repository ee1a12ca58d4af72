package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jeswr/lws-core/internal/accesstoken"
	"github.com/jeswr/lws-core/internal/challenge"
	appmiddleware "github.com/jeswr/lws-core/internal/middleware"
	"github.com/jeswr/lws-core/internal/storage"
)

// ResourceServerConfig carries the resource server's well-known metadata
// (spec §6 "GET /.well-known/lws-storage-server").
type ResourceServerConfig struct {
	AuthorizationServerURI string
	Realm                  string
}

// NewResourceServerRouter builds the chi router enforcing an access token on
// every path under the realm and dispatching to backend (spec §4.7, §6).
func NewResourceServerRouter(mw *challenge.Middleware, backend storage.Backend, cfg ResourceServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.SecurityHeaders)
	r.Use(appmiddleware.MaxBodySize(appmiddleware.DefaultMaxBodySize))

	r.Get("/.well-known/lws-storage-server", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, mw.Challenge.Metadata())
	})

	r.With(mw.Wrap).HandleFunc("/*", storageHandler(backend))

	return r
}

func storageHandler(backend storage.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vr, ok := challenge.FromContext(r)
		if !ok {
			writeErrorJSON(w, http.StatusInternalServerError, "server_error", "missing validated request")
			return
		}

		ctx := r.Context()
		switch vr.Action {
		case accesstoken.ActionRead:
			data, err := backend.Read(ctx, vr.ResourcePath)
			if err != nil {
				writeErrorJSON(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)

		case accesstoken.ActionCreate:
			body, err := readBody(r)
			if err != nil {
				writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			if err := backend.Create(ctx, vr.ResourcePath, body); err != nil {
				writeErrorJSON(w, http.StatusConflict, "conflict", err.Error())
				return
			}
			w.WriteHeader(http.StatusCreated)

		case accesstoken.ActionUpdate:
			body, err := readBody(r)
			if err != nil {
				writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			if err := backend.Write(ctx, vr.ResourcePath, body); err != nil {
				writeErrorJSON(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			w.WriteHeader(http.StatusOK)

		case accesstoken.ActionAppend:
			body, err := readBody(r)
			if err != nil {
				writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			if err := backend.Append(ctx, vr.ResourcePath, body); err != nil {
				writeErrorJSON(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			w.WriteHeader(http.StatusOK)

		case accesstoken.ActionDelete:
			if err := backend.Delete(ctx, vr.ResourcePath); err != nil {
				writeErrorJSON(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported action")
		}
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
