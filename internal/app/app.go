// Package app wires configuration, storage, mail, observability and the HTTP
// surfaces into runnable applications. The license server and the download
// tracker are separate binaries sharing this dependency graph.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stripe/stripe-go/v82"

	"elvlicense/internal/activity"
	"elvlicense/internal/config"
	"elvlicense/internal/infrastructure"
	"elvlicense/internal/license"
	"elvlicense/internal/mailer"
	"elvlicense/internal/middleware"
	"elvlicense/internal/services"
	"elvlicense/internal/storage"
	transport "elvlicense/internal/transport/http"
	ws "elvlicense/internal/websocket"
)

const rotationInterval = 24 * time.Hour

// Application holds the long-lived components of one HTTP surface
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics

	Store       storage.Storage
	ActivityLog *activity.Logger
	Hub         *ws.Hub

	Server *http.Server
	name   string

	// rotate is non-nil only on the surface that owns log rotation
	rotate bool
}

// core is the shared dependency graph both binaries build first
type core struct {
	cfg         *config.Config
	logger      *slog.Logger
	otel        *infrastructure.OTelProviders
	metrics     *infrastructure.BusinessMetrics
	store       storage.Storage
	activityLog *activity.Logger
	guard       *middleware.AdminGuard
}

// newCore loads configuration and builds everything both surfaces share.
// Anything that fails here fails startup; there is no degraded half-wired
// state except the documented mongo-to-file storage fallback.
func newCore(ctx context.Context) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Mongo, cfg.Paths, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	logger.InfoContext(ctx, "storage ready", slog.String("mode", string(store.Mode())))

	activityLog, err := activity.NewLogger(cfg.Paths.LogsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize activity log: %w", err)
	}

	guard, err := middleware.NewAdminGuard(cfg.Security.AdminSecret, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin guard: %w", err)
	}

	return &core{
		cfg:         cfg,
		logger:      logger,
		otel:        otelProviders,
		metrics:     metrics,
		store:       store,
		activityLog: activityLog,
		guard:       guard,
	}, nil
}

// NewLicenseServer builds the webhook/validation/admin surface
func NewLicenseServer(ctx context.Context) (*Application, error) {
	c, err := newCore(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "license server starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("port", c.cfg.Server.Port))

	hub := ws.NewHub(c.logger)
	hub.Start()
	c.activityLog.SetBroadcast(hub.BroadcastActivity)

	// The Stripe client key is process-global; line item fetches use it
	stripe.Key = c.cfg.Stripe.APIKey

	mail := mailer.New(c.cfg.SMTP, c.logger)
	if !mail.Enabled() {
		c.logger.WarnContext(ctx, "mail delivery disabled, licenses will not be emailed")
	}

	licenseService := services.NewLicenseService(
		c.store,
		license.NewGenerator(c.cfg.License.Salt, c.cfg.License.KeyPrefix),
		license.DefaultCatalog(),
		mail,
		c.activityLog,
		c.logger,
		c.metrics,
	)

	webhookHandler := transport.NewWebhookHandler(
		licenseService, c.activityLog, transport.StripeLineItems{},
		c.cfg.Stripe.WebhookSecret, c.logger, c.metrics)
	licenseHandler := transport.NewLicenseHandler(
		licenseService, c.activityLog, c.guard,
		func(ctx context.Context) (int, error) {
			return c.activityLog.Rotate(ctx, c.cfg.Paths.ArchiveDir)
		},
		c.logger)

	router := transport.NewRouter(transport.RouterDeps{
		Config:   c.cfg,
		Logger:   c.logger,
		Metrics:  c.metrics,
		Webhook:  webhookHandler,
		License:  licenseHandler,
		Guard:    c.guard,
		Hub:      hub,
		MetricsH: c.otel.PrometheusHTTP,
	})

	return &Application{
		Config:        c.cfg,
		Logger:        c.logger,
		OTelProviders: c.otel,
		Metrics:       c.metrics,
		Store:         c.store,
		ActivityLog:   c.activityLog,
		Hub:           hub,
		Server:        newServer(c.cfg, c.cfg.Server.Port, router),
		name:          "license-server",
		rotate:        true,
	}, nil
}

// NewDownloadTracker builds the download telemetry surface. It shares the
// storage and activity log layout with the license server but carries no
// mail, Stripe or websocket wiring.
func NewDownloadTracker(ctx context.Context) (*Application, error) {
	c, err := newCore(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "download tracker starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Int("port", c.cfg.Server.DownloadPort))

	downloadService := services.NewDownloadService(c.store, c.activityLog, c.logger)
	downloadHandler := transport.NewDownloadHandler(downloadService, c.logger)

	router := transport.NewDownloadRouter(transport.DownloadRouterDeps{
		Config:   c.cfg,
		Logger:   c.logger,
		Metrics:  c.metrics,
		Download: downloadHandler,
		Guard:    c.guard,
	})

	return &Application{
		Config:        c.cfg,
		Logger:        c.logger,
		OTelProviders: c.otel,
		Metrics:       c.metrics,
		Store:         c.store,
		ActivityLog:   c.activityLog,
		Server:        newServer(c.cfg, c.cfg.Server.DownloadPort, router),
		name:          "download-tracker",
	}, nil
}

func newServer(cfg *config.Config, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}

// Run starts the server and blocks until an interrupt arrives or the server
// fails, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if a.rotate {
		a.ActivityLog.StartRotation(ctx, a.Config.Paths.ArchiveDir, rotationInterval)
	}

	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "listening",
			slog.String("server", a.name),
			slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("%s: %w", a.name, err)
		}
	}()

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errChan:
		a.Logger.ErrorContext(ctx, "server failed", slog.String("error", err.Error()))
	}

	return a.Stop(ctx)
}

// Stop drains the server, then tears down the hub, storage and telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down", slog.String("server", a.name))

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if a.Hub != nil {
		a.Hub.Stop()
	}

	if err := a.Store.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.Logger.InfoContext(ctx, "shutdown complete", slog.String("server", a.name))
	return nil
}
