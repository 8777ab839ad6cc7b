package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/rs/zerolog/log"

	server "github.com/amarcin/village-units/internal/adapters/http_server"
	"github.com/amarcin/village-units/internal/adapters/identity"
	"github.com/amarcin/village-units/internal/adapters/listings"
	"github.com/amarcin/village-units/internal/adapters/localcache"
	"github.com/amarcin/village-units/internal/adapters/objectstore"
	"github.com/amarcin/village-units/internal/adapters/observability"
	redisad "github.com/amarcin/village-units/internal/adapters/redis"
	"github.com/amarcin/village-units/internal/app"
	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/reconcile"
	"github.com/amarcin/village-units/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	observability.Serve(cfg.MetricsAddr)

	cache, closeCache := newCache(ctx, cfg)
	defer closeCache()

	// live listings
	term, err := listings.ParseTermination(cfg.ListingsTermination)
	if err != nil {
		log.Fatal().Err(err).Msg("listings termination")
	}
	client, err := listings.New(cfg.ListingsURL, listings.Options{
		PageSize:    cfg.ListingsPageSize,
		Termination: term,
		RPS:         cfg.ListingsRPS,
		Timeout:     cfg.ListingsTimeout,
		Location:    cfg.Location(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize listings client")
	}
	live := app.NewLiveService(client, cache, cfg.LiveCacheTTL, cfg.Location())

	// snapshot history
	loc, err := objectstore.ParseLocation(cfg.SnapshotLocation)
	if err != nil {
		log.Fatal().Err(err).Msg("snapshot location")
	}
	s3cfg := objectstore.S3Config{Region: cfg.AWSRegion, Endpoint: cfg.S3Endpoint}
	store, err := objectstore.Open(ctx, loc, s3cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	storeFn := func(ctx context.Context) (domain.ObjectStore, error) {
		// signed-in users read s3 with their identity-pool credentials
		if sess, ok := identity.FromContext(ctx); ok && loc.Scheme == "s3" {
			if p := sess.CredentialsProvider(); p != nil {
				c := s3cfg
				c.Credentials = p
				return objectstore.Open(ctx, loc, c)
			}
		}
		return store, nil
	}
	history := app.NewHistoryService(storeFn, loc.Prefix, cfg.SnapshotWorkers,
		reconcile.New(cfg.Location()), cache, cfg.HistoryCacheTTL)
	log.Info().Str("location", loc.String()).Str("zone", cfg.Timezone).Msg("snapshot history configured")

	// http
	srv := server.New(server.Options{CORSOrigins: cfg.CORSOrigins, Timeout: 2 * cfg.ListingsTimeout})
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))

	var protect func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		auth := newAuth(ctx, cfg, cache)
		protect = server.RequireSession(auth.Sessions)
		srv.MountAuth(auth)
	}
	srv.MountHandlers(&server.Handlers{Live: live, History: history}, protect)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Bool("auth", cfg.AuthEnabled).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}

// newCache prefers redis when REDIS_ADDR is set and falls back to the
// in-process cache otherwise.
func newCache(ctx context.Context, cfg shared.Config) (domain.Cache, func()) {
	if cfg.RedisAddr == "" {
		lc := localcache.New(cfg.LocalCacheSize)
		log.Info().Int("size", cfg.LocalCacheSize).Msg("using in-process cache")
		return lc, lc.Stop
	}
	rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := rc.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis connection ok")
	return rc, func() { _ = rc.Close() }
}

func newAuth(ctx context.Context, cfg shared.Config, cache domain.Cache) *server.AuthHandlers {
	var ident identity.IdentityAPI
	if cfg.CognitoIdentityPoolID != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatal().Err(err).Msg("aws config")
		}
		ident = cognitoidentity.NewFromConfig(awsCfg)
	}
	p := identity.New(identity.Config{
		Domain:         cfg.CognitoDomain,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.AppURI + "/auth/callback",
		Region:         cfg.AWSRegion,
		UserPoolID:     cfg.CognitoUserPoolID,
		IdentityPoolID: cfg.CognitoIdentityPoolID,
	}, ident, nil)
	return &server.AuthHandlers{
		Provider: p,
		Sessions: identity.NewSessions(cache),
		Secure:   cfg.AppEnv != "dev" && cfg.AppEnv != "development",
		Home:     cfg.AppURI,
	}
}
