package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/api"
	"github.com/platinummonkey/turnstile/pkg/async"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/janitor"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/sso"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/storage/redisstore"
	"github.com/platinummonkey/turnstile/pkg/storage/sqlstore"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		if auth.IsConfigurationError(err) {
			log.WithError(err).Fatal("Refusing to start with insecure configuration")
		}
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("turnstile exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	observability.SetDefault(logger)

	telemetry, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if telemetry != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OTel instruments: %w", err)
		}
		metrics = metrics.WithOTel(otelMetrics)
	}

	store, redisClient, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}

	key, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	codec, err := auth.NewCodec(key, auth.WithIssuer(cfg.Tokens.Issuer))
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(codec, store, store, auth.IssuerConfig{
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
		Mode:       cfg.Tokens.RefreshMode,
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"algorithm":    codec.Algorithm(),
		"refresh_mode": issuer.Mode(),
	}).Info("Token issuer ready")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	limiter := usage.NewLimiter(store, store, usage.WithLocation(loc))

	gate, err := middleware.NewAuthMiddleware(codec, auth.NewVerifier(nil), store, middleware.AuthConfig{
		PublicPaths: cfg.Security.PublicPaths,
	}, metrics)
	if err != nil {
		return fmt.Errorf("invalid public paths: %w", err)
	}
	log.WithField("public_paths", gate.PublicPaths()).Debug("Authentication gate configured")

	cookies := httputil.CookieConfig{
		Domain:   cfg.Cookies.Domain,
		Secure:   cfg.Cookies.Secure,
		SameSite: httputil.ParseSameSite(cfg.Cookies.SameSite),
	}

	tasks := async.NewTracker()
	accountService := accounts.NewService(store, issuer, accounts.NewLogMailer(logger),
		accounts.WithTracker(tasks),
		accounts.WithMetrics(metrics),
		accounts.WithCodeTTL(cfg.Security.CodeTTL),
	)

	deps := api.Dependencies{
		Accounts:     accountService,
		Issuer:       issuer,
		Finder:       store,
		Limiter:      limiter,
		Gate:         gate,
		Quota:        middleware.NewQuotaMiddleware(limiter, metrics),
		Throttle:     newThrottle(ctx, cfg, redisClient, metrics),
		Health:       observability.NewHealthChecker(store, redisClient, version),
		Logger:       logger,
		Cookies:      cookies,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = metrics
	}

	federated, err := newFederatedHandlers(cfg, store, issuer, cookies, metrics)
	if err != nil {
		return err
	}
	if federated != nil {
		deps.Federated = federated
		log.Info("Federated login enabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("store", func(context.Context) error { return store.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if telemetry != nil {
		shutdown.Register("otel", telemetry.Shutdown)
	}
	shutdown.Register("background tasks", tasks.Wait)

	if cfg.Janitor.Enabled {
		j, err := janitor.New(store, cfg.Janitor.Schedule, log, metrics)
		if err != nil {
			return err
		}
		j.Start()
		shutdown.Register("janitor", j.Stop)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting turnstile")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := shutdown.Shutdown(); err != nil {
		return err
	}
	log.Info("Shutdown complete")
	return nil
}

// openStore selects the storage backend and, when Redis is configured,
// moves refresh tokens into it
func openStore(ctx context.Context, cfg storage.Config, log *logrus.Logger) (storage.Store, *redis.Client, error) {
	var store storage.Store
	switch cfg.Driver {
	case "memory":
		log.Warn("Using in-memory storage, all data is lost on restart")
		store = storage.NewMemoryStore()
	default:
		sqlStore, err := sqlstore.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
		}
		log.WithField("driver", cfg.Driver).Info("Database connected")
		store = sqlStore
	}

	if cfg.RedisURL == "" {
		return store, nil, nil
	}

	client, err := redisstore.NewClient(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	log.Info("Refresh tokens stored in Redis")
	return storage.WithRefreshStore(store, redisstore.NewRefreshStore(client)), client, nil
}

// newThrottle shares throttle windows through Redis when it is available
func newThrottle(ctx context.Context, cfg *config.Config, client *redis.Client, metrics *observability.Metrics) *middleware.LoginThrottle {
	var counter middleware.WindowCounter
	if client != nil {
		counter = middleware.NewRedisCounter(client, "turnstile:throttle")
	} else {
		memory := middleware.NewMemoryCounter()
		memory.StartCleanup(ctx, cfg.Security.ThrottleWindow)
		counter = memory
	}
	return middleware.NewLoginThrottle(counter, middleware.ThrottleConfig{
		Limit:  cfg.Security.ThrottleLimit,
		Window: cfg.Security.ThrottleWindow,
	}, metrics)
}

// newFederatedHandlers returns nil when no identity provider is configured
func newFederatedHandlers(cfg *config.Config, store storage.Store, issuer *auth.Issuer, cookies httputil.CookieConfig, metrics *observability.Metrics) (*sso.Handlers, error) {
	var providers []sso.OIDCConfig
	if g := cfg.OAuth.Google; g.Enabled() {
		providers = append(providers, sso.GooglePreset(g.ClientID, g.ClientSecret, g.RedirectURL))
	}
	if len(providers) == 0 {
		return nil, nil
	}

	registry, err := sso.NewRegistry(providers, cfg.OAuth.DiscoveryTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid identity provider configuration: %w", err)
	}

	return sso.NewHandlers(registry, sso.NewReconciler(store), issuer, sso.HandlerConfig{
		SuccessURL: cfg.OAuth.SuccessURL,
		FailureURL: cfg.OAuth.FailureURL,
		StateTTL:   cfg.OAuth.StateTTL,
		Cookies:    cookies,
	}, metrics), nil
}
