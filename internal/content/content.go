// Package content applies operator-driven lifecycle transitions to content
// items and records them in the audit trail.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postgate/internal/audit"
	"postgate/internal/model"
	"postgate/internal/status"
)

// Store is the content persistence the service needs.
type Store interface {
	CreateContent(ctx context.Context, item *model.ContentItem) error
	GetContent(ctx context.Context, id string) (*model.ContentItem, error)
	UpdateContent(ctx context.Context, item *model.ContentItem) error
	ListContent(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error)
}

// Auditor writes audit entries.
type Auditor interface {
	Log(ctx context.Context, e model.AuditEntry) audit.Result
}

// Service runs lifecycle transitions.
type Service struct {
	store   Store
	auditor Auditor
	log     *slog.Logger
}

// New creates a Service.
func New(store Store, auditor Auditor, log *slog.Logger) *Service {
	return &Service{store: store, auditor: auditor, log: log}
}

// Create stores a new DRAFT item.
func (s *Service) Create(ctx context.Context, item model.ContentItem) (*model.ContentItem, error) {
	if _, err := model.ParsePlatform(string(item.Platform)); err != nil {
		return nil, err
	}
	item.Status = model.StatusDraft
	item.PlatformPostID = ""
	if err := s.store.CreateContent(ctx, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.store.GetContent(ctx, id)
}

// List returns items in state st.
func (s *Service) List(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error) {
	return s.store.ListContent(ctx, st, limit)
}

// Submit sends a draft or rejected item for approval.
func (s *Service) Submit(ctx context.Context, id, actor string) (*model.ContentItem, error) {
	return s.move(ctx, id, actor, model.StatusNeedsApproval, model.ActionStatusChanged, "", nil)
}

// Approve approves an item waiting for approval.
func (s *Service) Approve(ctx context.Context, id, actor string) (*model.ContentItem, error) {
	return s.move(ctx, id, actor, model.StatusApproved, model.ActionApproved, "", nil)
}

// Reject rejects an item with a reason.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (*model.ContentItem, error) {
	return s.move(ctx, id, actor, model.StatusRejected, model.ActionRejected, reason, nil)
}

// Schedule arms an approved or failed item for publishing at at.
func (s *Service) Schedule(ctx context.Context, id, actor string, at time.Time) (*model.ContentItem, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("schedule %s: time is required", id)
	}
	return s.move(ctx, id, actor, model.StatusScheduled, model.ActionScheduled, "for "+at.UTC().Format(time.RFC3339), func(item *model.ContentItem) {
		at := at.UTC()
		item.ScheduledAt = &at
	})
}

// ReturnToDraft sends an item back to authoring.
func (s *Service) ReturnToDraft(ctx context.Context, id, actor string) (*model.ContentItem, error) {
	return s.move(ctx, id, actor, model.StatusDraft, model.ActionStatusChanged, "", nil)
}

// move validates from -> to before touching storage.
func (s *Service) move(ctx context.Context, id, actor string, to model.Status, action model.AuditAction, note string, edit func(*model.ContentItem)) (*model.ContentItem, error) {
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	from := item.Status
	if err := status.Transition(from, to); err != nil {
		return nil, err
	}

	item.Status = to
	if edit != nil {
		edit(item)
	}
	if err := s.store.UpdateContent(ctx, item); err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("%s -> %s", from, to)
	if note != "" {
		reason += ": " + note
	}
	s.auditor.Log(ctx, model.AuditEntry{
		Actor:     actor,
		Platform:  item.Platform,
		ContentID: item.ID,
		Action:    action,
		Reason:    reason,
	})
	s.log.Info("content transition", "content_id", item.ID, "from", from, "to", to, "actor", actor)
	return item, nil
}
