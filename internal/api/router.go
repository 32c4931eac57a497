package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/campaign-center/internal/identity"
	"github.com/ashureev/campaign-center/internal/middleware"
)

// RequestRecorder observes completed HTTP requests.
type RequestRecorder interface {
	HTTPRequest(route string, code int)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Handler        *Handler
	Stream         http.Handler
	Metrics        http.Handler
	Dashboard      http.Handler
	APIKey         string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	Recorder       RequestRecorder
}

// NewRouter builds the chi router for the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.Recorder != nil {
		r.Use(recordRequests(cfg.Recorder))
	}

	// Public routes.
	r.Get("/health", cfg.Handler.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Stream != nil {
		r.Get("/ws/{campaignID}", cfg.Stream.ServeHTTP)
	}

	r.Route("/campaigns", func(r chi.Router) {
		r.Use(identity.Middleware(cfg.APIKey))

		r.Get("/", cfg.Handler.ListCampaigns)
		r.Get("/{campaignID}", cfg.Handler.GetCampaign)

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(middleware.RateLimit(cfg.RateLimiter))
			}
			r.Post("/", cfg.Handler.CreateCampaign)
			r.Post("/sync", cfg.Handler.CreateCampaignSync)
		})
	})

	if cfg.Dashboard != nil {
		r.Handle("/*", cfg.Dashboard)
	}

	return r
}

func recordRequests(rec RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.HTTPRequest(route, status)
		})
	}
}
