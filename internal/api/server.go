// Package api is the HTTP administration surface and the cron trigger.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"postgate/internal/model"
	"postgate/internal/publish"
	"postgate/internal/storage"
)

// Controls reads and writes the kill switches and rate caps.
type Controls interface {
	GetSettings(ctx context.Context) model.PostingSettings
	SetPaused(ctx context.Context, paused bool, actor, reason string) (model.PostingSettings, error)
	Platforms(ctx context.Context) (model.PlatformSettings, error)
	SetPlatformEnabled(ctx context.Context, p model.Platform, enabled bool, actor string) error
	GetCaps(ctx context.Context) (*model.CapConfig, error)
	PutCaps(ctx context.Context, cfg model.CapConfig) error
}

// Limiter resets the error-rate breaker.
type Limiter interface {
	ResetPlatformErrorCount(ctx context.Context, p model.Platform, actor string) (model.PlatformState, error)
}

// Content runs lifecycle transitions.
type Content interface {
	Create(ctx context.Context, item model.ContentItem) (*model.ContentItem, error)
	Get(ctx context.Context, id string) (*model.ContentItem, error)
	List(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error)
	Submit(ctx context.Context, id, actor string) (*model.ContentItem, error)
	Approve(ctx context.Context, id, actor string) (*model.ContentItem, error)
	Reject(ctx context.Context, id, actor, reason string) (*model.ContentItem, error)
	Schedule(ctx context.Context, id, actor string, at time.Time) (*model.ContentItem, error)
	ReturnToDraft(ctx context.Context, id, actor string) (*model.ContentItem, error)
}

// AuditReader lists recent audit entries.
type AuditReader interface {
	Recent(ctx context.Context, q storage.AuditQuery) ([]model.AuditEntry, error)
}

// Publisher runs the orchestrator.
type Publisher interface {
	ProcessDue(ctx context.Context, actor string, limit int) ([]publish.Outcome, error)
	ProcessID(ctx context.Context, id, actor string) (publish.Outcome, error)
}

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP surface.
type Handler struct {
	controls  Controls
	limiter   Limiter
	content   Content
	audit     AuditReader
	publisher Publisher
	metrics   http.Handler
	db        Pinger
	log       *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(controls Controls, limiter Limiter, content Content, audit AuditReader, publisher Publisher, metrics http.Handler, log *slog.Logger) *Handler {
	return &Handler{
		controls:  controls,
		limiter:   limiter,
		content:   content,
		audit:     audit,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
	}
}

// SetPinger makes /healthz report 503 while p fails.
func (h *Handler) SetPinger(p Pinger) {
	h.db = p
}

// Routes builds the router. Every /v1 route requires the bearer token and
// only authenticated requests draw from the rate limit.
func (h *Handler) Routes(token string, rps float64) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Use(rateLimit(rps))

		r.Post("/cron/publish", h.CronPublish)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/posting", h.GetPosting)
			r.Put("/posting", h.PutPosting)
			r.Get("/platforms", h.GetPlatforms)
			r.Put("/platforms/{platform}", h.PutPlatform)
			r.Post("/platforms/{platform}/reset", h.ResetPlatform)
			r.Get("/rate-caps", h.GetRateCaps)
			r.Put("/rate-caps", h.PutRateCaps)
		})

		r.Route("/content", func(r chi.Router) {
			r.Post("/", h.CreateContent)
			r.Get("/", h.ListContent)
			r.Get("/{id}", h.GetContent)
			r.Post("/{id}/publish", h.PublishContent)
			r.Post("/{id}/{action}", h.TransitionContent)
		})

		r.Get("/audit", h.ListAudit)
	})

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
			if token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimit(rps float64) func(http.Handler) http.Handler {
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			h.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
