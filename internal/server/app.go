// Package server assembles the listener, worker pool, and admin API into a
// runnable application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/poolhttpd/internal/api"
	"github.com/JakeFAU/poolhttpd/internal/config"
	"github.com/JakeFAU/poolhttpd/internal/connection"
	"github.com/JakeFAU/poolhttpd/internal/dispatcher"
	"github.com/JakeFAU/poolhttpd/internal/listener"
	"github.com/JakeFAU/poolhttpd/internal/policy/ratelimit"
	"github.com/JakeFAU/poolhttpd/internal/route"
	appstorage "github.com/JakeFAU/poolhttpd/internal/storage"
	gcsstorage "github.com/JakeFAU/poolhttpd/internal/storage/gcs"
	localstorage "github.com/JakeFAU/poolhttpd/internal/storage/local"
	"github.com/JakeFAU/poolhttpd/internal/telemetry"
)

const tracerShutdownTimeout = 5 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	gcsClient *storage.Client
	tracer    *sdktrace.TracerProvider
	store     appstorage.Provider
	handler   *connection.Handler
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	ln      net.Listener
	adminLn net.Listener
}

// NewApp creates the application's dependencies and starts the worker pool.
// A failure to start the pool is fatal for the process.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}

	logger.Info("building application dependencies",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("workers", cfg.Pool.Workers),
		zap.Int("queue_capacity", cfg.Pool.QueueCapacity),
		zap.String("storage", cfg.Storage.Provider),
	)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		app.tracer = tp
	}

	var err error
	app.store, err = setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	routes := route.DefaultTable()
	logger.Debug("route table loaded", zap.Int("routes", routes.Len()))
	app.handler, err = connection.NewHandler(connection.Config{
		MaxLineBytes:  cfg.Connection.MaxLineBytes,
		LingerTimeout: cfg.Linger(),
	}, routes, app.store, logger.Named("connection"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("connection handler init failed: %w", err)
	}

	app.dispatch, err = dispatcher.New(dispatcher.Config{
		Workers:       cfg.Pool.Workers,
		QueueCapacity: cfg.Pool.QueueCapacity,
	}, logger.Named("dispatcher"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.dispatch, logger.Named("api"))
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (appstorage.Provider, error) {
	switch app.cfg.Storage.Provider {
	case config.StorageGCS:
		app.logger.Info("using GCS resource storage", zap.String("bucket", app.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCS.Bucket,
			Prefix: app.cfg.Storage.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs resource store init failed: %w", err)
		}
		return store, nil
	case config.StorageLocal:
		app.logger.Info("using local resource storage", zap.String("path", app.cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local resource store init failed: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", app.cfg.Storage.Provider)
	}
}

// Listen binds the request listener and, when configured, the admin listener.
// Bind failures are fatal for the process.
func (a *App) Listen() error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	a.ln = ln
	if a.cfg.Admin.Addr == "" {
		return nil
	}
	adminLn, err := net.Listen("tcp", a.cfg.Admin.Addr)
	if err != nil {
		_ = ln.Close()
		a.ln = nil
		return fmt.Errorf("listen admin %s: %w", a.cfg.Admin.Addr, err)
	}
	a.adminLn = adminLn
	return nil
}

// Addr returns the bound request address, or nil before Listen.
func (a *App) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// AdminAddr returns the bound admin address, or nil when disabled.
func (a *App) AdminAddr() net.Addr {
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// Run binds if needed and serves until ctx ends. On return the listener is
// closed and every accepted connection has been answered.
func (a *App) Run(ctx context.Context) error {
	if a.ln == nil {
		if err := a.Listen(); err != nil {
			a.dispatch.Shutdown()
			return err
		}
	}
	a.logger.Info("application started",
		zap.Stringer("addr", a.ln.Addr()),
		zap.Int("workers", a.dispatch.Size()),
	)

	var opts []listener.Option
	if a.cfg.Server.AcceptRate > 0 {
		opts = append(opts, listener.WithThrottle(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.Server.AcceptRate,
			Burst: a.cfg.Server.AcceptBurst,
		})))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := listener.Serve(gctx, a.ln, a.handler, a.dispatch, a.logger.Named("listener"), opts...); err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	if a.adminLn != nil {
		srv := &http.Server{
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("admin server started", zap.Stringer("addr", a.AdminAddr()))
			if err := srv.Serve(a.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.AdminShutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("admin server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated", zap.Int("pending", a.dispatch.Pending()))
	a.dispatch.Shutdown()
	a.logger.Info("shutdown complete")
	return err
}

// Close releases external clients. Call it after Run returns.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
		cancel()
		a.tracer = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
}
