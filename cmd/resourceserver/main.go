// Command resourceserver runs the LWS resource server: the challenge
// middleware enforcing access tokens (spec §4.7) in front of the storage
// backend (spec §4.8).
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
	"github.com/jeswr/lws-core/internal/challenge"
	"github.com/jeswr/lws-core/internal/config"
	"github.com/jeswr/lws-core/internal/httpapi"
	"github.com/jeswr/lws-core/internal/jwkutil"
	"github.com/jeswr/lws-core/internal/logging"
	"github.com/jeswr/lws-core/internal/replay"
	"github.com/jeswr/lws-core/internal/storage"
)

func main() {
	logging.Init("resourceserver")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.SigningKeysPath == "" {
		log.Warn().Msg("LWS_SIGNING_KEYS_PATH not set: generating an ephemeral signing key local to this process; the authorization server and resource server must share LWS_SIGNING_KEYS_PATH to validate each other's tokens")
	}
	bundle, privKeys, err := config.LoadSigningKeys(cfg.SigningKeysPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load authorization server signing keys")
	}
	jwksByKid, err := toJWKSLookup(bundle, privKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive authorization server public keys")
	}

	replayStore := replay.New(cfg.JTIStoreEndpoint)
	defer replayStore.Close()

	validator := &accesstoken.Validator{
		Realm:              cfg.AuthorizationServerURI,
		ClockSkewTolerance: time.Duration(cfg.ClockSkewToleranceS) * time.Second,
		JWKSByKid:          jwksByKid,
		Replay:             replayStore,
	}

	mw := &challenge.Middleware{
		Challenge: challenge.Challenge{
			AuthorizationServerURI: cfg.AuthorizationServerURI,
			StorageRealm:           cfg.RealmURI,
		},
		Validator: validator,
	}

	storageRoot := os.Getenv("LWS_STORAGE_ROOT")
	if storageRoot == "" {
		storageRoot = "./data"
	}
	backend, err := storage.NewLocalDisk(storageRoot)
	if err != nil {
		log.Fatal().Err(err).Str("root", storageRoot).Msg("failed to initialize storage backend")
	}

	router := httpapi.NewResourceServerRouter(mw, backend, httpapi.ResourceServerConfig{
		AuthorizationServerURI: cfg.AuthorizationServerURI,
		Realm:                  cfg.RealmURI,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3002"
	}
	if _, err := strconv.Atoi(port); err != nil {
		log.Fatal().Err(err).Str("PORT", port).Msg("invalid PORT value")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("realm", cfg.RealmURI).Msg("resource server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("resource server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("resource server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("resource server forced to shutdown")
	}
	log.Info().Msg("resource server exited gracefully")
}

// toJWKSLookup builds the kid->Key lookup the access-token validator uses to
// verify signatures minted by any of the authorization server's configured
// keys (spec §4.6 step 2, supporting the rotation window of SPEC_FULL §3).
func toJWKSLookup(bundle config.SigningKeyBundle, privs []ed25519.PrivateKey) (func(kid string) (jwkutil.Key, bool), error) {
	byKid := make(map[string]jwkutil.Key, len(privs))
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
		byKid[kid] = pubJWK
	}
	return func(kid string) (jwkutil.Key, bool) {
		k, ok := byKid[kid]
		return k, ok
	}, nil
}
