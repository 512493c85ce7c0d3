// Package app wires the catalog service together.
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
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-catalog/internal/domain/auth"
	"github.com/xenking/kart-catalog/internal/domain/catalog"
	"github.com/xenking/kart-catalog/internal/handler"
	"github.com/xenking/kart-catalog/internal/storage/filestore"
	"github.com/xenking/kart-catalog/internal/storage/postgres"
	"github.com/xenking/kart-catalog/pkg/health"
	"github.com/xenking/kart-catalog/pkg/httpmiddleware"
)

const serviceName = "catalog-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage_root", cfg.Storage.Root),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	files, err := filestore.Open(cfg.Storage.Root, filestore.WithCodeLength(cfg.Storage.CodeLength))
	if err != nil {
		return errors.Wrap(err, "open file store")
	}
	defer func() { _ = files.Close() }()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("filestore", 2*time.Second, files.Check)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, cfg, pool, files, healthSvc, m.TracerProvider(), m.MeterProvider()),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		defer healthSvc.Stop()

		// A listen failure needs no drain period.
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

// newHandler builds the catalog service on top of pool and files and returns
// the routed API wrapped in the middleware chain.
func newHandler(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	files *filestore.Store,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) http.Handler {
	svc := catalog.NewService(
		postgres.NewProductRepository(pool),
		postgres.NewPresentationRepository(pool),
		files,
		handler.FilesPath,
	)

	// Left as a nil interface when disabled so the handler skips key checks.
	var authenticator handler.Authenticator
	if cfg.Auth.Enabled {
		authenticator = auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(cfg.Auth.APIKeyPepper))
	}

	h := handler.NewHandler(handler.HandlerConfig{
		MaxUploadSize: cfg.Storage.MaxUploadSize,
		MaxPageSize:   cfg.Paging.MaxSize,
	}, svc, authenticator)

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	h.Register(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Content-Disposition"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   httpmiddleware.SkipSafeMethods,
		}),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
}
