package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"school-service/internal/admission"
	"school-service/internal/audit"
	"school-service/internal/config"
	"school-service/internal/metrics"
	"school-service/internal/ratelimit"
	"school-service/internal/service"
	"school-service/internal/util"
)

// HealthCheck probes one backend.
type HealthCheck func(ctx context.Context) error

// RouterDeps are the collaborators the router mounts.
type RouterDeps struct {
	Config   *config.Config
	Pipeline *admission.Pipeline
	Limiter  *ratelimit.Limiter
	Services *service.ServiceFactory
	Events   audit.RecentReader
	Audit    audit.Sink
	Health   map[string]HealthCheck
	Clock    func() time.Time
	Logger   *zap.Logger
}

// requireHTTPS rejects any request that wasn’t made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			util.RespondError(w, http.StatusUpgradeRequired, "https_required", "HTTPS required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and
// routes. Every request, including health probes, passes the admission
// pipeline.
func NewRouter(deps RouterDeps) chi.Router {
	cfg := deps.Config
	router := chi.NewRouter()

	if cfg.IsProduction() && cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	if cfg.Security.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(LoggerMiddleware(deps.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "X-User-ID", "X-User-Role", AdminKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Use(deps.Pipeline.Middleware)

	router.Get("/health", healthHandler(deps.Health, deps.Logger))
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	r := responder{logger: deps.Logger, trustProxyHeader: cfg.Security.TrustProxyHeaders}
	svc := deps.Services
	router.Route("/api", func(api chi.Router) {
		NewAuthHandler(svc.AuthService(), r).RegisterRoutes(api)
		NewFileHandler(svc.FileService(), cfg.Storage.MaxFileSize, r).RegisterRoutes(api)
		NewAdminHandler(AdminDeps{
			Auth:    svc.AuthService(),
			Limiter: deps.Limiter,
			Events:  deps.Events,
			Audit:   deps.Audit,
			APIKey:  cfg.Security.AdminAPIKey,
			Clock:   deps.Clock,
		}, r).RegisterRoutes(api)
		NewRecordHandler(svc.RecordService(), r).RegisterRoutes(api)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.RespondError(w, http.StatusNotFound, "not_found", "Endpoint not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		util.RespondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return router
}

// healthHandler answers 503 when any backend probe fails.
func healthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("Health check failed", util.String("backend", name), util.ErrorField(err))
				results[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "healthy"
		}

		resp := util.SuccessResponse(map[string]any{"service": "school-service", "checks": results}, "healthy")
		if status != http.StatusOK {
			resp = util.ErrorResponse("unhealthy", "One or more backends are unavailable")
			resp.Data = map[string]any{"service": "school-service", "checks": results}
		}
		util.RespondJSON(w, status, resp)
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests and records
// the request metrics.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", status),
					util.Duration("duration", elapsed),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
