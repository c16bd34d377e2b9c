package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/config"
	"github.com/actuallystonmai/library-intelligence/internal/handler"
	"github.com/actuallystonmai/library-intelligence/internal/metrics"
)

func Setup(h *handler.Handler, cfg config.ServerConfig, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		r.Get("/users/{userID}/recommendations", h.GetRecommendations)
		r.Get("/users/{userID}/reading-stats", h.GetReadingStats)
		r.Get("/recommendations/batch", h.GetBatchRecommendations)
		r.Get("/search", h.Search)
		r.Get("/books/{bookID}/demand", h.GetDemand)
		r.Get("/analytics", h.GetAnalytics)

		r.Group(func(r chi.Router) {
			if cfg.RateLimit > 0 {
				r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
			}
			r.Post("/demand/batch", h.PostDemandBatch)
			r.Put("/books/{bookID}", h.PutBook)
			r.Delete("/books/{bookID}", h.DeleteBook)
			r.Post("/interactions", h.PostInteraction)
		})
	})

	return r
}

// requestLogger writes one access log line per request and records the
// request metrics under the matched route pattern.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}
