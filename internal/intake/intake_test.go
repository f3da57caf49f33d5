package intake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postgate/internal/model"
	"postgate/internal/storage"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Brand Blog</title>
    <link>https://blog.example.com</link>
    <description>News</description>
    <item>
      <title>Spring launch teaser</title>
      <link>https://blog.example.com/spring</link>
      <guid>spring-1</guid>
      <description>Our spring launch is coming</description>
      <enclosure url="https://cdn.example.com/spring.mp4" length="1000" type="video/mp4"/>
    </item>
    <item>
      <title>Hiring: video editor</title>
      <link>https://blog.example.com/hiring</link>
      <guid>hiring-1</guid>
      <description>Join the launch team</description>
    </item>
    <item>
      <title>Launch day recap</title>
      <link>https://blog.example.com/recap</link>
      <description>What happened</description>
    </item>
  </channel>
</rss>`

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   bool
	}{
		{name: "ok", transport: &mockTransport{body: sampleFeed, statusCode: 200}, wantTitle: "Brand Blog", wantItems: 3},
		{name: "bad status", transport: &mockTransport{statusCode: 503}, wantErr: true},
		{name: "transport error", transport: &mockTransport{err: errors.New("dial tcp: refused")}, wantErr: true},
		{name: "not a feed", transport: &mockTransport{body: "<html></html>", statusCode: 200}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed, err := NewFetcher(tt.transport).Fetch(context.Background(), "https://blog.example.com/rss")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if feed.Title != tt.wantTitle || len(feed.Items) != tt.wantItems {
				t.Errorf("feed = %q with %d items, want %q with %d", feed.Title, len(feed.Items), tt.wantTitle, tt.wantItems)
			}
		})
	}
}

func TestImportDue(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	src := model.IntakeSource{Name: "Brand Blog", URL: "https://blog.example.com/rss", Platform: model.PlatformYouTube, IntervalMinutes: 30, IsActive: true}
	if err := store.CreateSource(ctx, &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	for _, r := range []model.IntakeRule{
		{SourceID: src.ID, Kind: model.RuleInclude, Scope: model.ScopeAll, Value: "launch"},
		{SourceID: src.ID, Kind: model.RuleExcludeRe, Scope: model.ScopeTitle, Value: `^hiring`},
	} {
		if err := store.CreateRule(ctx, &r); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	im := NewImporter(store, NewFetcher(&mockTransport{body: sampleFeed, statusCode: 200}), testLogger())
	created, err := im.ImportDue(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}

	drafts, err := store.ListContent(ctx, model.StatusDraft, 10)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	var titles []string
	for _, d := range drafts {
		titles = append(titles, d.Title)
		if d.Platform != model.PlatformYouTube {
			t.Errorf("draft %q platform = %s", d.Title, d.Platform)
		}
	}
	sort.Strings(titles)
	if diff := cmp.Diff([]string{"Launch day recap", "Spring launch teaser"}, titles); diff != "" {
		t.Errorf("draft titles mismatch (-want +got):\n%s", diff)
	}
	for _, d := range drafts {
		if d.Title == "Spring launch teaser" {
			if d.PayloadRef != "https://cdn.example.com/spring.mp4" || d.SourceRef != "rss:1:spring-1" || d.MediaSignature == "" {
				t.Errorf("unexpected draft fields: %+v", d)
			}
		}
	}

	// The source is not due again until its interval passes.
	created, err = im.ImportDue(ctx)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if created != 0 {
		t.Errorf("second import created %d drafts", created)
	}

	// Forcing the check again must not duplicate seen entries.
	im.now = func() time.Time { return time.Now().Add(time.Hour) }
	created, err = im.ImportDue(ctx)
	if err != nil {
		t.Fatalf("third import: %v", err)
	}
	if created != 0 {
		t.Errorf("seen entries were imported again: %d", created)
	}
}

func TestImportFetchErrorStillTouchesSource(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	src := model.IntakeSource{Name: "Down", URL: "https://down.example.com", Platform: model.PlatformFacebook, IntervalMinutes: 10, IsActive: true}
	if err := store.CreateSource(ctx, &src); err != nil {
		t.Fatalf("create source: %v", err)
	}

	im := NewImporter(store, NewFetcher(&mockTransport{statusCode: 500}), testLogger())
	if _, err := im.ImportDue(ctx); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := store.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.LastCheckAt == nil {
		t.Error("expected last check to be recorded after a failed fetch")
	}
}
