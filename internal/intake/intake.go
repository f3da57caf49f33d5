// Package intake turns RSS feeds into DRAFT content items.
package intake

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"postgate/internal/model"
)

// Store is the persistence the importer needs.
type Store interface {
	ListDueSources(ctx context.Context, now time.Time) ([]model.IntakeSource, error)
	UpdateSource(ctx context.Context, src *model.IntakeSource) error
	ListRules(ctx context.Context, sourceID int64) ([]model.IntakeRule, error)
	IsSeen(ctx context.Context, sourceID int64, guid string) (bool, error)
	MarkSeen(ctx context.Context, sourceID int64, guid string) error
	CreateContent(ctx context.Context, item *model.ContentItem) error
}

// FeedFetcher loads a parsed feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Importer creates drafts from due sources.
type Importer struct {
	store   Store
	fetcher FeedFetcher
	log     *slog.Logger
	now     func() time.Time
}

// NewImporter creates an Importer.
func NewImporter(store Store, fetcher FeedFetcher, log *slog.Logger) *Importer {
	return &Importer{store: store, fetcher: fetcher, log: log, now: time.Now}
}

// ImportDue checks every due source and returns how many drafts were created.
func (im *Importer) ImportDue(ctx context.Context) (int, error) {
	sources, err := im.store.ListDueSources(ctx, im.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list due sources: %w", err)
	}
	var total int
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		total += im.importSource(ctx, src)
	}
	return total, nil
}

func (im *Importer) importSource(ctx context.Context, src model.IntakeSource) int {
	im.log.Debug("checking intake source", "source_id", src.ID, "name", src.Name)
	defer im.touch(ctx, &src)

	feed, err := im.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		im.log.Error("fetch intake source", "source_id", src.ID, "url", src.URL, "error", err)
		return 0
	}
	rules, err := im.store.ListRules(ctx, src.ID)
	if err != nil {
		im.log.Error("list intake rules", "source_id", src.ID, "error", err)
		return 0
	}

	var created int
	for _, it := range feed.Items {
		if it == nil || !Accept(Entry{Title: it.Title, Summary: it.Description}, rules) {
			continue
		}
		guid := EntryGUID(it)
		seen, err := im.store.IsSeen(ctx, src.ID, guid)
		if err != nil {
			im.log.Error("check seen", "source_id", src.ID, "guid", guid, "error", err)
			continue
		}
		if seen {
			continue
		}

		media := MediaRef(it)
		draft := model.ContentItem{
			Title:          it.Title,
			Status:         model.StatusDraft,
			Platform:       src.Platform,
			PayloadRef:     media,
			MediaSignature: signature(media),
			SourceRef:      fmt.Sprintf("rss:%d:%s", src.ID, guid),
		}
		if err := im.store.CreateContent(ctx, &draft); err != nil {
			im.log.Error("create draft", "source_id", src.ID, "guid", guid, "error", err)
			continue
		}
		if err := im.store.MarkSeen(ctx, src.ID, guid); err != nil {
			im.log.Error("mark seen", "source_id", src.ID, "guid", guid, "error", err)
		}
		created++
	}

	if created > 0 {
		im.log.Info("drafts imported", "source_id", src.ID, "name", src.Name, "count", created)
	}
	return created
}

func (im *Importer) touch(ctx context.Context, src *model.IntakeSource) {
	now := im.now().UTC()
	src.LastCheckAt = &now
	if err := im.store.UpdateSource(ctx, src); err != nil {
		im.log.Error("update last check", "source_id", src.ID, "error", err)
	}
}

func signature(ref string) string {
	if ref == "" {
		return ""
	}
	h := sha256.Sum256([]byte(ref))
	return fmt.Sprintf("sha256:%x", h[:16])
}
