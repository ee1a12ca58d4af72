// Command resolver runs the identifier resolver as its own HTTP service
// (spec §6), exposing CID-document resolution, verification-method lookup,
// and did:key decoding over three GET routes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/jeswr/lws-core/internal/cache"
	"github.com/jeswr/lws-core/internal/config"
	"github.com/jeswr/lws-core/internal/didkey"
	"github.com/jeswr/lws-core/internal/logging"
	appmiddleware "github.com/jeswr/lws-core/internal/middleware"
	"github.com/jeswr/lws-core/internal/resolver"
)

func main() {
	logging.Init("resolver")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	docCache := cache.New(cfg.DocumentCacheEndpoint, "cid-doc")
	defer docCache.Close()

	res := resolver.New(resolver.Options{
		HTTPSOnly:    cfg.CIDHTTPSOnly,
		MaxBytes:     int64(cfg.CIDMaxBytes),
		FetchTimeout: time.Duration(cfg.CIDFetchTimeoutMS) * time.Millisecond,
		DefaultTTL:   time.Duration(cfg.CIDDefaultTTLS) * time.Second,
		MaxTTL:       24 * time.Hour,
		MinTTL:       time.Minute,
	}, docCache)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.SecurityHeaders)

	r.Get("/resolve", resolveCIDHandler(res))
	r.Get("/verification-method", verificationMethodHandler(res))
	r.Get("/resolve-did-key", resolveDIDKeyHandler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "3003"
	}
	if _, err := strconv.Atoi(port); err != nil {
		log.Fatal().Err(err).Str("PORT", port).Msg("invalid PORT value")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.CIDFetchTimeoutMS)*time.Millisecond + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("resolver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("resolver failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("resolver shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("resolver forced to shutdown")
	}
	log.Info().Msg("resolver exited gracefully")
}

func resolveCIDHandler(res *resolver.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			writeErr(w, http.StatusBadRequest, "missing uri query parameter")
			return
		}
		doc, err := res.ResolveCID(r.Context(), uri)
		if err != nil {
			writeResolverErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func verificationMethodHandler(res *resolver.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		kid := r.URL.Query().Get("kid")
		if uri == "" || kid == "" {
			writeErr(w, http.StatusBadRequest, "missing uri or kid query parameter")
			return
		}
		doc, err := res.ResolveCID(r.Context(), uri)
		if err != nil {
			writeResolverErr(w, err)
			return
		}
		vm, err := resolver.VerificationMethodByKid(doc, kid)
		if err != nil {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, vm)
	}
}

func resolveDIDKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		did := r.URL.Query().Get("did")
		if did == "" {
			writeErr(w, http.StatusBadRequest, "missing did query parameter")
			return
		}
		key, err := resolver.ResolveDIDKey(did)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, didkey.ErrUnsupportedKeyType) || errors.Is(err, didkey.ErrUnsupportedKeyFormat) {
				status = http.StatusUnprocessableEntity
			}
			writeErr(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, key.ToPublicKeyJWK())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResolverErr maps the resolver error taxonomy (spec §7 "Resolver
// errors") onto HTTP status codes.
func writeResolverErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrInvalidURI), errors.Is(err, resolver.ErrHTTPSRequired), errors.Is(err, resolver.ErrInvalidDocument):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, resolver.ErrDocumentTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, resolver.ErrTimeout):
		writeErr(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, resolver.ErrFetchFailed):
		writeErr(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, resolver.ErrNoVerificationMethod):
		writeErr(w, http.StatusNotFound, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
