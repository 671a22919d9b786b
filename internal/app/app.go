package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricerules/internal/domain/coupon"
	"github.com/xenking/kart-pricerules/internal/domain/pricing"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/handler"
	"github.com/xenking/kart-pricerules/internal/storage/cache"
	"github.com/xenking/kart-pricerules/internal/storage/postgres"
	"github.com/xenking/kart-pricerules/pkg/health"
	"github.com/xenking/kart-pricerules/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	h, err := newHandler(ctx, pool, cfg, healthSvc, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler builds the repositories, the pricing service and the routed,
// instrumented HTTP handler.
func newHandler(
	ctx context.Context,
	pool *pgxpool.Pool,
	cfg *Config,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, error) {
	repo := postgres.NewRuleRepository(pool)
	rules := cache.NewRules(repo, cfg.Cache.TTL)
	products := postgres.NewProductRepository(pool)

	// The index expires with the cache TTL and loads codes past the cache,
	// so a coupon visible through the cache is never rejected by it.
	index := coupon.NewCodeIndex(repo, cfg.CodeIndex.Capacity, cfg.CodeIndex.FalsePositiveRate, cfg.Cache.TTL)
	if err := index.Rebuild(ctx); err != nil {
		return nil, errors.Wrap(err, "build coupon index")
	}

	svc, err := pricing.NewService(pricing.Deps{
		Rules:          rules,
		Usage:          postgres.NewUsageStore(pool),
		Carts:          postgres.NewCartRepository(pool),
		Members:        postgres.NewMemberRepository(pool),
		Labels:         rule.IdentityLabeler{},
		Cache:          rules,
		Index:          index,
		Concurrency:    cfg.Eval.Concurrency,
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create pricing service")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", handler.New(svc, products))

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("pricerules-api", tp, mp),
		httpmiddleware.LogRequests(),
	), nil
}
