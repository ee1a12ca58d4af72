// Command authserver runs the LWS authorization server: the token-exchange
// endpoint (spec §4.5), discovery metadata, and JWKS publication (spec §6).
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeswr/lws-core/internal/accesstoken"
	"github.com/jeswr/lws-core/internal/cache"
	"github.com/jeswr/lws-core/internal/config"
	"github.com/jeswr/lws-core/internal/exchange"
	"github.com/jeswr/lws-core/internal/httpapi"
	"github.com/jeswr/lws-core/internal/jwkutil"
	"github.com/jeswr/lws-core/internal/logging"
	"github.com/jeswr/lws-core/internal/resolver"
	"github.com/jeswr/lws-core/internal/validator"
)

func main() {
	logging.Init("authserver")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.SigningKeysPath == "" {
		log.Warn().Msg("LWS_SIGNING_KEYS_PATH not set: generating an ephemeral signing key local to this process; the authorization server and resource server must share LWS_SIGNING_KEYS_PATH to validate each other's tokens")
	}
	bundle, privKeys, err := config.LoadSigningKeys(cfg.SigningKeysPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing keys")
	}
	signingKeys, err := toSigningKeys(bundle, privKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive public signing keys")
	}
	currentKey := signingKeys[0]

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

	jwksClient := validator.NewOpenIDJWKSClient(docCache, time.Duration(cfg.CIDFetchTimeoutMS)*time.Millisecond, time.Duration(cfg.CIDDefaultTTLS)*time.Second)
	registry := validator.NewRegistry(res, jwksClient)

	minter := &accesstoken.Minter{
		Issuer:          cfg.AuthorizationServerURI,
		Key:             currentKey,
		DefaultLifetime: time.Duration(cfg.AccessTokenMaxLifetimeS) * time.Second,
	}

	handler := &exchange.Handler{
		Registry:           registry,
		Minter:             minter,
		Realm:              cfg.AuthorizationServerURI,
		ClockSkewTolerance: time.Duration(cfg.ClockSkewToleranceS) * time.Second,
	}

	publicKeys := make([]jwkutil.Key, 0, len(signingKeys))
	for _, k := range signingKeys {
		publicKeys = append(publicKeys, k.Public)
	}

	router := httpapi.NewAuthServerRouter(handler, httpapi.AuthServerConfig{
		Issuer:                     cfg.AuthorizationServerURI,
		TokenPath:                  "/token",
		PublicKeys:                 publicKeys,
		SubjectTokenTypesSupported: []string{validator.TokenTypeOpenIDIDToken, validator.TokenTypeJWT},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}
	if _, err := strconv.Atoi(port); err != nil {
		log.Fatal().Err(err).Str("PORT", port).Msg("invalid PORT value")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("issuer", cfg.AuthorizationServerURI).Msg("authorization server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("authorization server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("authorization server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("authorization server forced to shutdown")
	}
	log.Info().Msg("authorization server exited gracefully")
}

// toSigningKeys derives the public half of each configured Ed25519 signing
// key, pairing it with the kid the bundle assigned it.
func toSigningKeys(bundle config.SigningKeyBundle, privs []ed25519.PrivateKey) ([]accesstoken.SigningKey, error) {
	out := make([]accesstoken.SigningKey, 0, len(privs))
	for i, priv := range privs {
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("signing key %d: not an Ed25519 key", i)
		}
		kid := bundle.Keys[i].Kid
		pubJWK, err := jwkutil.FromPublicKeyJWK(jwkutil.PublicKeyJWK{
			Kty: jwkutil.KtyOKP,
			Crv: jwkutil.CrvEd25519,
			Alg: jwkutil.AlgEdDSA,
			Kid: kid,
			X:   base64.RawURLEncoding.EncodeToString(pub),
		})
		if err != nil {
			return nil, fmt.Errorf("signing key %d: %w", i, err)
		}
		out = append(out, accesstoken.SigningKey{Kid: kid, Alg: jwkutil.AlgEdDSA, Private: priv, Public: pubJWK})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}
	return out, nil
}
