package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/fieldperm/pkg/httputil"
	"github.com/platinummonkey/fieldperm/pkg/observability"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const scanTimeout = 30 * time.Minute

func (a *App) newServeCommand() *Command {
	return &Command{
		Name:        "serve",
		Description: "Run scheduled drift scans and audit retention with health and metrics endpoints",
		Run:         a.runServe,
	}
}

func (a *App) runServe(args []string) error {
	flags := a.newFlagSet("serve")
	runOnce := flags.Bool("run-once", false, "Run one drift scan and exit")

	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, a.Config.Observability.OTel(), a.Logger)
	if err != nil {
		return err
	}

	b, err := a.Open(ctx)
	if err != nil {
		observability.ShutdownTracing(ctx, tp, a.Logger)
		return err
	}
	defer b.Close()

	if *runOnce {
		defer observability.ShutdownTracing(ctx, tp, a.Logger)
		drift, err := scanDrift(ctx, b, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%d drifted grant sets\n", len(drift))
		return nil
	}

	scheduler, err := a.scheduleJobs(b)
	if err != nil {
		return err
	}

	srv := a.Config.Server
	server := &http.Server{
		Addr:         srv.Addr(),
		Handler:      otelhttp.NewHandler(a.newRouter(b), "permctl"),
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(a.Logger, server, srv.ShutdownTimeout)
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, a.Logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.WithField("addr", server.Addr).Info("Serving health and metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := shutdown.WaitForShutdown(ctx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
		return shutdownErr
	}
}

// newRouter exposes health probes and, when metrics are enabled, the scrape endpoint
func (a *App) newRouter(b *Backend) *mux.Router {
	router := mux.NewRouter()
	router.Use(httputil.RequestID, httputil.Recovery(a.Logger), httputil.Logging(a.Logger))

	var redisClient *redis.Client
	if b.Redis != nil {
		redisClient = b.Redis.Client()
	}
	checker := observability.NewHealthChecker(b.DB, redisClient, a.Config.Observability.OTelServiceVersion)
	observability.RegisterHealthRoutes(router, checker)

	if b.Metrics != nil {
		router.Use(b.Metrics.Middleware)
		router.Handle("/metrics", b.Metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}

// eventPruner is implemented by audit sinks that can drop old events
type eventPruner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// scheduleJobs starts the drift scan on the configured schedule and, when the
// audit sink supports it, a daily audit retention job. It returns nil when
// neither job is enabled.
func (a *App) scheduleJobs(b *Backend) (*cron.Cron, error) {
	c := cron.New()
	jobs := 0

	if schedule := a.Config.Scan.Schedule; schedule != "" {
		if _, err := c.AddFunc(schedule, a.driftJob(b)); err != nil {
			return nil, fmt.Errorf("failed to schedule drift scan: %w", err)
		}
		a.Logger.WithField("schedule", schedule).Info("Drift scan scheduled")
		jobs++
	} else {
		a.Logger.Info("Drift scan schedule is empty, scheduled scans disabled")
	}

	if pruner, ok := b.Events.(eventPruner); ok && a.Config.Audit.Retention > 0 {
		if _, err := c.AddFunc("@daily", a.retentionJob(pruner)); err != nil {
			return nil, fmt.Errorf("failed to schedule audit retention: %w", err)
		}
		a.Logger.WithField("retention", a.Config.Audit.Retention.String()).Info("Audit retention scheduled")
		jobs++
	}

	if jobs == 0 {
		return nil, nil
	}
	c.Start()
	return c, nil
}

func (a *App) retentionJob(pruner eventPruner) func() {
	return func() {
		defer observability.RecoverPanic(a.Logger, "audit retention")

		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()

		removed, err := pruner.Cleanup(ctx, a.Config.Audit.Retention)
		if err != nil {
			a.Logger.WithError(err).Error("Audit retention failed")
			return
		}
		a.Logger.WithField("removed", removed).Info("Audit retention completed")
	}
}

func (a *App) driftJob(b *Backend) func() {
	return func() {
		defer observability.RecoverPanic(a.Logger, "drift scan")

		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()

		start := time.Now()
		drift, err := scanDrift(ctx, b, 0)
		if err != nil {
			a.Logger.WithError(err).Error("Drift scan failed")
			return
		}
		a.Logger.WithField("drift", len(drift)).WithField("duration", time.Since(start).String()).
			Info("Drift scan completed")
	}
}
