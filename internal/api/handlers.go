package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"postgate/internal/model"
	"postgate/internal/publish"
	"postgate/internal/status"
	"postgate/internal/storage"
)

const (
	cronActor    = "system:cron"
	defaultActor = "api"

	defaultCronBatch = 10
	maxListLimit     = 200
	maxBodyBytes     = 1 << 20
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type postingRequest struct {
	Paused *bool  `json:"paused"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type platformRequest struct {
	Enabled *bool  `json:"enabled"`
	Actor   string `json:"actor"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type transitionRequest struct {
	Actor       string     `json:"actor"`
	Reason      string     `json:"reason"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type createContentRequest struct {
	Title          string `json:"title"`
	Platform       string `json:"platform"`
	PayloadRef     string `json:"payload_ref"`
	MediaSignature string `json:"media_signature"`
	SourceRef      string `json:"source_ref"`
}

type contentResponse struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Status         model.Status   `json:"status"`
	Platform       model.Platform `json:"platform"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	PayloadRef     string         `json:"payload_ref,omitempty"`
	MediaSignature string         `json:"media_signature,omitempty"`
	PlatformPostID string         `json:"platform_post_id,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	SourceRef      string         `json:"source_ref,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type auditResponse struct {
	ID               int64             `json:"id"`
	TimestampUTC     time.Time         `json:"timestamp_utc"`
	Actor            string            `json:"actor"`
	Platform         model.Platform    `json:"platform"`
	ContentID        string            `json:"content_id,omitempty"`
	Action           model.AuditAction `json:"action"`
	Reason           string            `json:"reason,omitempty"`
	PlatformResponse string            `json:"platform_response,omitempty"`
	RequestID        string            `json:"request_id,omitempty"`
}

type cronResponse struct {
	Processed int               `json:"processed"`
	Outcomes  []publish.Outcome `json:"outcomes"`
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.log.Error("health check", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CronPublish processes due content.
func (h *Handler) CronPublish(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultCronBatch)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	// A client hanging up must not cut a batch short between gates.
	outcomes, err := h.publisher.ProcessDue(context.WithoutCancel(r.Context()), cronActor, limit)
	if err != nil {
		h.internalError(w, "process due content", err)
		return
	}
	writeJSON(w, http.StatusOK, cronResponse{Processed: len(outcomes), Outcomes: outcomes})
}

// GetPosting returns the global kill switch.
func (h *Handler) GetPosting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controls.GetSettings(r.Context()))
}

// PutPosting flips the global kill switch.
func (h *Handler) PutPosting(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Paused == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "paused is required")
		return
	}
	ps, err := h.controls.SetPaused(r.Context(), *req.Paused, actorOr(req.Actor), req.Reason)
	if err != nil {
		h.internalError(w, "set posting switch", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPlatforms returns the per-platform switches with defaults filled in.
func (h *Handler) GetPlatforms(w http.ResponseWriter, r *http.Request) {
	ps, err := h.controls.Platforms(r.Context())
	if err != nil {
		h.internalError(w, "read platform switches", err)
		return
	}
	out := make(model.PlatformSettings, len(model.Platforms))
	for _, p := range model.Platforms {
		st, ok := ps[p]
		if !ok {
			st = model.PlatformState{Enabled: true}
		}
		out[p] = st
	}
	writeJSON(w, http.StatusOK, out)
}

// PutPlatform enables or disables one platform.
func (h *Handler) PutPlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	var req platformRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "enabled is required")
		return
	}
	if err := h.controls.SetPlatformEnabled(r.Context(), p, *req.Enabled, actorOr(req.Actor)); err != nil {
		h.internalError(w, "set platform switch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform": p, "enabled": *req.Enabled})
}

// ResetPlatform re-enables a platform and restarts error counting.
func (h *Handler) ResetPlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.limiter.ResetPlatformErrorCount(r.Context(), p, actorOr(req.Actor))
	if err != nil {
		h.internalError(w, "reset platform", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetRateCaps returns the rate cap document, or an empty one.
func (h *Handler) GetRateCaps(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.controls.GetCaps(r.Context())
	if err != nil {
		h.internalError(w, "read rate caps", err)
		return
	}
	if cfg == nil {
		cfg = &model.CapConfig{Platforms: map[model.Platform]model.PlatformCaps{}}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutRateCaps replaces the rate cap document.
func (h *Handler) PutRateCaps(w http.ResponseWriter, r *http.Request) {
	var cfg model.CapConfig
	if !h.decode(w, r, &cfg) {
		return
	}
	for p, c := range cfg.Platforms {
		if _, err := model.ParsePlatform(string(p)); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		if c.MaxPerHour < 0 || c.MaxPerDay < 0 || c.CooldownMinutes < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("caps for %s must not be negative", p))
			return
		}
	}
	if err := h.controls.PutCaps(r.Context(), cfg); err != nil {
		h.internalError(w, "write rate caps", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreateContent stores a new draft.
func (h *Handler) CreateContent(w http.ResponseWriter, r *http.Request) {
	var req createContentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "title is required")
		return
	}
	p, err := model.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	item, err := h.content.Create(r.Context(), model.ContentItem{
		Title:          req.Title,
		Platform:       p,
		PayloadRef:     req.PayloadRef,
		MediaSignature: req.MediaSignature,
		SourceRef:      req.SourceRef,
	})
	if err != nil {
		h.internalError(w, "create content", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContentResponse(item))
}

// ListContent lists items in one state.
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	st := model.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if st == "" {
		st = model.StatusNeedsApproval
	}
	if !status.IsCanonical(st) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("unknown status %q", st))
		return
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	items, err := h.content.List(r.Context(), st, limit)
	if err != nil {
		h.internalError(w, "list content", err)
		return
	}
	out := make([]contentResponse, 0, len(items))
	for i := range items {
		out = append(out, toContentResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetContent returns one item.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	item, err := h.content.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.contentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContentResponse(item))
}

// TransitionContent applies approve, reject, schedule, submit or draft.
func (h *Handler) TransitionContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	actor := actorOr(req.Actor)

	var (
		item *model.ContentItem
		err  error
	)
	switch chi.URLParam(r, "action") {
	case "approve":
		item, err = h.content.Approve(ctx, id, actor)
	case "reject":
		if strings.TrimSpace(req.Reason) == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "reason is required")
			return
		}
		item, err = h.content.Reject(ctx, id, actor, req.Reason)
	case "schedule":
		if req.ScheduledAt == nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "scheduled_at is required")
			return
		}
		item, err = h.content.Schedule(ctx, id, actor, *req.ScheduledAt)
	case "submit":
		item, err = h.content.Submit(ctx, id, actor)
	case "draft":
		item, err = h.content.ReturnToDraft(ctx, id, actor)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown action")
		return
	}
	if err != nil {
		h.contentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContentResponse(item))
}

// PublishContent runs one item through the publish gates now.
func (h *Handler) PublishContent(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.publisher.ProcessID(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"), actorOr(req.Actor))
	if err != nil {
		h.contentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAudit returns recent audit entries.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := storage.AuditQuery{ContentID: r.URL.Query().Get("content_id")}
	if raw := r.URL.Query().Get("platform"); raw != "" {
		p, err := model.ParsePlatform(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		q.Platform = p
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		q.Action = model.AuditAction(raw)
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	q.Limit = limit

	entries, err := h.audit.Recent(r.Context(), q)
	if err != nil {
		h.internalError(w, "list audit", err)
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:               e.ID,
			TimestampUTC:     e.TimestampUTC,
			Actor:            e.Actor,
			Platform:         e.Platform,
			ContentID:        e.ContentID,
			Action:           e.Action,
			Reason:           e.Reason,
			PlatformResponse: e.PlatformResponse,
			RequestID:        e.RequestID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) contentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "content not found")
	case errors.Is(err, status.ErrInvalidTransition):
		writeError(w, http.StatusConflict, status.ErrInvalidTransition.Error(), err.Error())
	default:
		h.internalError(w, "content operation", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("api error", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}

func writeJSON(w http.ResponseWriter, httpStatus int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	writeJSON(w, httpStatus, ErrorResponse{Code: code, Message: message})
}

func platformParam(w http.ResponseWriter, r *http.Request) (model.Platform, bool) {
	p, err := model.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return "", false
	}
	return p, true
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	return n, nil
}

func actorOr(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return defaultActor
}

func toContentResponse(item *model.ContentItem) contentResponse {
	return contentResponse{
		ID:             item.ID,
		Title:          item.Title,
		Status:         item.Status,
		Platform:       item.Platform,
		ScheduledAt:    item.ScheduledAt,
		PayloadRef:     item.PayloadRef,
		MediaSignature: item.MediaSignature,
		PlatformPostID: item.PlatformPostID,
		LastError:      item.LastError,
		SourceRef:      item.SourceRef,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}
