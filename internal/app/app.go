package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderwatch/internal/actions"
	"github.com/xenking/orderwatch/internal/aggregate"
	"github.com/xenking/orderwatch/internal/handler"
	"github.com/xenking/orderwatch/internal/reconcile"
	"github.com/xenking/orderwatch/internal/storage/snapshot"
	"github.com/xenking/orderwatch/internal/upstream"
	"github.com/xenking/orderwatch/internal/watch"
	"github.com/xenking/orderwatch/internal/workset"
	"github.com/xenking/orderwatch/pkg/health"
	"github.com/xenking/orderwatch/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("upstream", cfg.UpstreamURL),
	)

	client, err := upstream.New(upstream.Config{
		BaseURL:        cfg.UpstreamURL,
		AccessToken:    cfg.AccessToken,
		CallTimeout:    cfg.CallTimeout,
		RPS:            cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create upstream client")
	}

	// Working set, seeded from the last snapshot so the status floor
	// survives restarts.
	set := workset.New()
	if cfg.SnapshotPath != "" {
		orders, err := snapshot.Load(ctx, cfg.SnapshotPath)
		if err != nil {
			lg.Warn("Ignoring unreadable snapshot", zap.String("path", cfg.SnapshotPath), zap.Error(err))
		} else {
			set.Seed(orders)
			lg.Info("Snapshot loaded", zap.Int("orders", len(orders)))
		}
	}

	agg, err := aggregate.New(client, aggregate.Options{
		PageSize:      cfg.List.PageSize,
		MaxPages:      cfg.List.MaxPages,
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create aggregator")
	}
	rec, err := reconcile.New(set, reconcile.Sources{
		Detail:   client,
		Shipping: client,
		Review:   client,
	}, reconcile.Options{
		Concurrency:    cfg.Concurrency,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}
	views := watch.New(set, agg, rec, watch.Options{
		ListInterval:   cfg.List.Interval,
		DetailInterval: cfg.Detail.Interval,
	})
	buyer := actions.New(set, client)

	// Health check service. Readiness follows the last successful
	// reconciliation so a dead upstream is visible to the supervisor.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddReadinessCheck("refresh", time.Second,
		health.StalenessCheck(rec.LastSuccess, 4*cfg.List.Interval, 2*cfg.List.Interval))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(set, rec, buyer, views).Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2*cfg.CallTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins: cfg.CORS.Origins,
				Headers: []string{"Content-Type", httpmiddleware.HeaderRequestID},
				MaxAge:  24 * time.Hour,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.Inbound.RPS,
				Burst: cfg.Inbound.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("orderwatch", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	if err := views.MountList(ctx); err != nil {
		return errors.Wrap(err, "mount list view")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return views.Run(gctx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		views.Close()
		healthSvc.Stop()

		if cfg.SnapshotPath != "" {
			orders := set.List()
			if err := snapshot.Save(shutdownCtx, cfg.SnapshotPath, orders); err != nil {
				lg.Error("Snapshot save failed", zap.Error(err))
			} else {
				lg.Info("Snapshot saved", zap.Int("orders", len(orders)))
			}
		}
		return nil
	})
	return g.Wait()
}
