package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"elvlicense/internal/config"
	"elvlicense/internal/infrastructure"
	"elvlicense/internal/middleware"
	"elvlicense/internal/websocket"
)

// RouterDeps bundles what the license server router needs
type RouterDeps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *infrastructure.BusinessMetrics
	Webhook  *WebhookHandler
	License  *LicenseHandler
	Guard    *middleware.AdminGuard
	Hub      *websocket.Hub
	MetricsH http.Handler
}

// NewRouter builds the license server router
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(commonMiddleware(deps.Config, deps.Logger)...)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	rateCfg := deps.Config.Security.RateLimit
	general := middleware.NewIPRateLimiter(rateCfg.RPS, rateCfg.Burst, deps.Logger)
	strict := middleware.NewIPRateLimiter(rateCfg.WebhookRPS, rateCfg.WebhookBurst, deps.Logger)

	// Webhook gets its own, stricter limiter; rejection happens before any
	// handler logic
	r.Group(func(r chi.Router) {
		if rateCfg.Enabled {
			r.Use(strict.Handler)
		}
		r.Post("/webhook", deps.Webhook.HandleWebhook)
	})

	// The webhook group above carries no timeout middleware: issuing and
	// mailing a multi-item checkout can outlive the read timeout
	r.Group(func(r chi.Router) {
		if rateCfg.Enabled {
			r.Use(general.Handler)
		}
		r.Use(middleware.Timeout(deps.Config.Server.ReadTimeout, deps.Logger))

		r.Get("/health", deps.License.Health)
		r.Get("/validate/{licenseKey}", deps.License.Validate)
		r.Get("/analytics", deps.License.Analytics)
		r.Post("/revoke/{licenseKey}", deps.License.Revoke)
		r.Post("/test-email", deps.License.TestEmail)
		r.Post("/rotate-logs", deps.License.RotateLogs)

		r.With(deps.Guard.RequireHeader).Get("/analytics/export", deps.License.AnalyticsExport)

		if deps.Hub != nil {
			r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
				websocket.ServeWS(deps.Hub, w, req, deps.Logger)
			})
		}
	})

	if deps.MetricsH != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsH)
	}

	return r
}

// DownloadRouterDeps bundles what the download tracker router needs
type DownloadRouterDeps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *infrastructure.BusinessMetrics
	Download *DownloadHandler
	Guard    *middleware.AdminGuard
}

// NewDownloadRouter builds the download tracker router
func NewDownloadRouter(deps DownloadRouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(commonMiddleware(deps.Config, deps.Logger)...)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	rateCfg := deps.Config.Security.RateLimit
	if rateCfg.Enabled {
		limiter := middleware.NewIPRateLimiter(rateCfg.RPS, rateCfg.Burst, deps.Logger)
		r.Use(limiter.Handler)
	}
	r.Use(middleware.Timeout(deps.Config.Server.ReadTimeout, deps.Logger))

	r.Post("/log-download", deps.Download.LogDownload)
	r.Post("/log-download-complete", deps.Download.LogDownloadComplete)
	r.Post("/log-download-error", deps.Download.LogDownloadError)
	r.Post("/log-page-view", deps.Download.LogPageView)
	r.Get("/validate-license/{licenseKey}", deps.Download.ValidateLicense)
	r.With(deps.Guard.RequireHeader).Get("/download-analytics", deps.Download.Analytics)

	return r
}

// commonMiddleware is the shared chain for both surfaces
func commonMiddleware(cfg *config.Config, logger *slog.Logger) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.StructuredLogger(logger),
		middleware.Recoverer(logger),
		middleware.SecurityHeaders,
		middleware.StripSlashes,
	}
	if cfg.Security.EnableCORS {
		chain = append(chain, middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Logger:         logger,
		}))
	}
	return chain
}

// metricsMiddleware records per-request counters and latency
func metricsMiddleware(metrics *infrastructure.BusinessMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			metrics.RecordHTTPRequest(r.Context(), r.Method, route, ww.Status(), time.Since(start))
		})
	}
}

// attributeOption wraps one string attribute as a metric add option
func attributeOption(key, value string) metric.AddOption {
	return metric.WithAttributes(attribute.String(key, value))
}
