// Package app - Wires configuration, storage, models and the HTTP API into a running service.
package app

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/config"
	"github.com/nvr-ai/go-rembg/events"
	"github.com/nvr-ai/go-rembg/export"
	"github.com/nvr-ai/go-rembg/gallery"
	"github.com/nvr-ai/go-rembg/inference"
	"github.com/nvr-ai/go-rembg/inference/providers"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/processor"
	"github.com/nvr-ai/go-rembg/profiler"
	"github.com/nvr-ai/go-rembg/queue"
	"github.com/nvr-ai/go-rembg/store"
	"github.com/nvr-ai/go-rembg/transport"
)

// App is the assembled service.
type App struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     store.Store
	publisher events.Publisher
	runtime   inference.Runtime
	loader    *loader.Loader
	profiler  *profiler.Profiler
	queue     *queue.Queue
	sweeper   *queue.Sweeper
	gallery   *gallery.Service
	handler   http.Handler
}

// Option customizes New.
type Option func(*App)

// WithRuntime replaces the ONNX runtime, mainly for tests.
func WithRuntime(rt inference.Runtime) Option {
	return func(a *App) {
		a.runtime = rt
	}
}

// New builds the service from cfg.
//
// Arguments:
//   - ctx: Bounds connecting to the store and the event broker.
//   - cfg: The configuration.
//   - log: The process logger.
//   - opts: Optional overrides.
//
// Returns:
//   - *App: The service, not yet running.
//   - error: An error if a dependency cannot be set up.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(a)
	}

	caps, err := providers.Resolve(cfg.Models.Accelerator)
	if err != nil {
		return nil, errors.Wrap(err, "resolve accelerator")
	}
	log.WithFields(logrus.Fields{
		"accelerated": caps.Accelerated,
		"backend":     caps.Backend,
		"reason":      caps.Reason,
	}).Info("hardware capabilities")

	if a.runtime == nil {
		a.runtime = inference.NewONNXRuntime(cfg.Models.Dir, providers.SharedLibPath(cfg.Models.SharedLibrary))
	}

	if a.store, err = OpenStore(ctx, cfg.Store); err != nil {
		return nil, err
	}

	a.publisher = events.Open(ctx, cfg.Events.Kafka, log)

	a.loader = loader.New(a.runtime, caps,
		loader.WithLogger(log.WithField("component", "loader")),
		loader.WithActivationHook(func(info loader.Info) {
			e := events.New(events.ModelActivated)
			e.ModelID = string(info.ModelID)
			e.Backend = string(info.Backend)
			events.Emit(context.Background(), a.publisher, log, e)
		}),
	)

	a.profiler = profiler.New(profiler.Options{
		ReportInterval: cfg.Profiler.ReportInterval,
		MaxSamples:     cfg.Profiler.MaxSamples,
	}, log.WithField("component", "profiler"))

	proc := processor.New(a.loader, log.WithField("component", "processor"), processor.WithTimer(a.profiler))
	a.queue = queue.New(a.store, proc, a.publisher, log)

	if cfg.Queue.SweepSchedule != "" {
		if a.sweeper, err = queue.NewSweeper(a.queue, cfg.Queue.SweepSchedule, log); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	var host export.HostDocument
	if cfg.Host.WebhookURL != "" {
		host = export.NewWebhookHost(cfg.Host.WebhookURL, cfg.Host.Timeout)
	}
	a.gallery = gallery.New(a.store, a.publisher, host, log)

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	a.handler = transport.InitRoutes(
		transport.NewHandler(a.loader, a.queue, a.gallery, a.profiler),
		log.WithField("component", "http"),
		cfg.Server.MaxUploadBytes,
	)

	return a, nil
}

// OpenStore connects the configured record store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		st, err := store.NewPostgres(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return st, nil
	case config.StoreRedis:
		return store.NewRedis(ctx, cfg.Redis)
	default:
		return store.NewMemory(), nil
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// PreferredModel returns the model requested at startup.
func (a *App) PreferredModel() models.ID {
	if a.cfg.Models.Preferred != "" {
		return models.ID(a.cfg.Models.Preferred)
	}
	return models.Accelerated().ID
}

// Start initializes the model and starts the background workers. Model initialization failures
// are logged; the API keeps serving and processing reports the model as not initialized.
func (a *App) Start(ctx context.Context) {
	go a.queue.Run(ctx)
	go a.profiler.Run(ctx)
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	go func() {
		info, err := a.loader.Initialize(ctx, a.PreferredModel())
		if err != nil {
			a.log.WithError(err).Error("model initialization failed")
			return
		}
		a.log.WithField("model_id", info.ModelID).Info("ready to process images")
		a.queue.Kick()
	}()
}

// Run serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &http.Server{
		Addr:              a.cfg.Server.Address(),
		Handler:           a.handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("App Started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		a.log.WithError(serveErr).Error("http server stopped")
	}

	a.log.Info("App Shutting Down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("error occured on server shutting down")
	}

	if err := a.Close(); err != nil {
		a.log.WithError(err).Warn("releasing resources")
	}
	return serveErr
}

// Close stops the workers and releases the model, the publisher and the store. Every resource is
// released; the first failure is returned and the rest are logged.
func (a *App) Close() error {
	var first error
	release := func(what string, err error) {
		if err == nil {
			return
		}
		err = errors.Wrap(err, what)
		if first == nil {
			first = err
			return
		}
		a.log.WithError(err).Warn("releasing resources")
	}

	if a.sweeper != nil {
		<-a.sweeper.Stop().Done()
	}
	if a.loader != nil {
		release("close model", a.loader.Close())
	}
	if closer, ok := a.runtime.(interface{ Close() error }); ok {
		release("close runtime", closer.Close())
	}
	if a.publisher != nil {
		release("close publisher", a.publisher.Close())
	}
	if a.store != nil {
		release("close store", a.store.Close())
	}
	return first
}
