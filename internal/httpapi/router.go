// Package httpapi exposes newsletter publishing and subscription management
// over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/pkg/newsletter"
)

// Config configures the router.
type Config struct {
	// ActorHeader names the header carrying the authenticated actor UUID.
	// Authentication itself happens upstream.
	ActorHeader string

	// RateLimitRequests per RateLimitWindow and client IP on admin routes.
	// Zero disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handler serves the HTTP API.
type Handler struct {
	publisher   *newsletter.Publisher
	subscribers *newsletter.Subscribers
	mailer      *newsletter.ConfirmationMailer
	config      Config
}

// NewHandler creates a Handler.
func NewHandler(
	publisher *newsletter.Publisher,
	subscribers *newsletter.Subscribers,
	mailer *newsletter.ConfirmationMailer,
	config Config,
) *Handler {
	if config.ActorHeader == "" {
		config.ActorHeader = "X-Actor-ID"
	}
	return &Handler{
		publisher:   publisher,
		subscribers: subscribers,
		mailer:      mailer,
		config:      config,
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health_check", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/subscriptions", h.Subscribe)
	r.Get("/subscriptions/confirm", h.ConfirmSubscription)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.rateLimit())
		r.Post("/newsletters", h.PublishNewsletter)
	})

	return r
}

func (h *Handler) rateLimit() func(http.Handler) http.Handler {
	if h.config.RateLimitRequests <= 0 || h.config.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(h.config.RateLimitRequests, h.config.RateLimitWindow)
}

// requestLogging tags the request context with a correlation ID and logs
// one line per request.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := logging.ContextWithNewCorrelationID(r.Context())
		if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
			ctx = logging.ContextWithRequestID(ctx, reqID)
		}
		r = r.WithContext(ctx)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
