// Package adapter defines the contract with per-platform publishers and a
// generic webhook publisher.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"postgate/internal/model"
)

// ErrNoPublisher is returned when no publisher is registered for a platform.
var ErrNoPublisher = errors.New("no publisher registered")

// Request is what a publisher receives.
type Request struct {
	ContentID      string         `json:"content_id"`
	Platform       model.Platform `json:"platform"`
	Title          string         `json:"title,omitempty"`
	PayloadRef     string         `json:"payload_ref"`
	MediaSignature string         `json:"media_signature,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Result is a successful publish.
type Result struct {
	PlatformPostID string
	// Response is a snapshot of the platform's reply for the audit trail.
	Response string
}

// Failure is a structured publish failure reported by the platform.
type Failure struct {
	Code     string
	Message  string
	Response string
}

func (f *Failure) Error() string {
	if f.Code == "" {
		return f.Message
	}
	return f.Code + ": " + f.Message
}

// Publisher pushes one content item to one platform.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Result, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, req Request) (Result, error)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps platforms to publishers.
type Registry struct {
	mu         sync.RWMutex
	publishers map[model.Platform]Publisher
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{publishers: make(map[model.Platform]Publisher)}
}

// Register sets the publisher for p.
func (r *Registry) Register(p model.Platform, pub Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p] = pub
}

// Publish dispatches req to the publisher of its platform.
func (r *Registry) Publish(ctx context.Context, req Request) (Result, error) {
	r.mu.RLock()
	pub, ok := r.publishers[req.Platform]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w for %s", ErrNoPublisher, req.Platform)
	}
	return pub.Publish(ctx, req)
}

// Platforms returns the platforms with a registered publisher.
func (r *Registry) Platforms() []model.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Platform
	for _, p := range model.Platforms {
		if _, ok := r.publishers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
