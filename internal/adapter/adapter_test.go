package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postgate/internal/model"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(model.PlatformTikTok, PublisherFunc(func(_ context.Context, req Request) (Result, error) {
		return Result{PlatformPostID: "tt_" + req.ContentID}, nil
	}))

	got, err := r.Publish(context.Background(), Request{ContentID: "c1", Platform: model.PlatformTikTok})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if diff := cmp.Diff(Result{PlatformPostID: "tt_c1"}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	_, err = r.Publish(context.Background(), Request{ContentID: "c1", Platform: model.PlatformYouTube})
	if !errors.Is(err, ErrNoPublisher) {
		t.Errorf("expected ErrNoPublisher, got %v", err)
	}

	if diff := cmp.Diff([]model.Platform{model.PlatformTikTok}, r.Platforms()); diff != "" {
		t.Errorf("platforms mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookPublish(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		want        Result
		wantFailure *Failure
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"post_id":"ig_42"}`,
			want:   Result{PlatformPostID: "ig_42", Response: `{"post_id":"ig_42"}`},
		},
		{
			name:        "structured failure",
			status:      http.StatusUnauthorized,
			body:        `{"code":"AUTH","error":"token expired"}`,
			wantFailure: &Failure{Code: "AUTH", Message: "token expired", Response: `{"code":"AUTH","error":"token expired"}`},
		},
		{
			name:        "plain failure",
			status:      http.StatusBadGateway,
			body:        `upstream down`,
			wantFailure: &Failure{Code: "HTTP_502", Message: "relay returned HTTP 502", Response: "upstream down"},
		},
		{
			name:        "missing post id",
			status:      http.StatusOK,
			body:        `{}`,
			wantFailure: &Failure{Code: "BAD_RESPONSE", Message: "relay response has no post_id", Response: "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq Request
			var gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("Idempotency-Key")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			wh := NewWebhook(srv.URL, srv.Client(), time.Second)
			req := Request{ContentID: "c1", Platform: model.PlatformInstagram, PayloadRef: "drive://x", IdempotencyKey: "k1"}
			got, err := wh.Publish(context.Background(), req)

			if diff := cmp.Diff(req, gotReq); diff != "" {
				t.Errorf("relay request mismatch (-want +got):\n%s", diff)
			}
			if gotKey != "k1" {
				t.Errorf("Idempotency-Key = %q, want k1", gotKey)
			}

			if tt.wantFailure != nil {
				var f *Failure
				if !errors.As(err, &f) {
					t.Fatalf("expected *Failure, got %v", err)
				}
				if diff := cmp.Diff(tt.wantFailure, f); diff != "" {
					t.Errorf("failure mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("publish: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWebhookTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	wh := NewWebhook(srv.URL, srv.Client(), 50*time.Millisecond)
	_, err := wh.Publish(context.Background(), Request{ContentID: "c1", Platform: model.PlatformYouTube})

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Code != "TIMEOUT" {
		t.Errorf("code = %q, want TIMEOUT", f.Code)
	}
}
