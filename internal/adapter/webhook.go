package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
)

const maxResponseBytes = 64 << 10

// Webhook publishes by POSTing the request as JSON to a relay endpoint that
// talks to the platform. The relay answers 2xx with {"post_id": "..."} or an
// error status with {"code": "...", "error": "..."}.
//
// Calls are bounded by a timeout and never retried, so a slow relay cannot
// turn into a double publish.
type Webhook struct {
	url      string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

// NewWebhook creates a Webhook posting to url. A nil client selects http.DefaultClient.
func NewWebhook(url string, client *http.Client, limit time.Duration) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = 60 * time.Second
	}
	return &Webhook{
		url:      url,
		client:   client,
		executor: failsafe.With[*http.Response](timeout.New[*http.Response](limit)),
	}
}

type webhookReply struct {
	PostID string `json:"post_id"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Publish implements Publisher.
func (w *Webhook) Publish(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	//nolint:bodyclose // closed below once the executor returns
	resp, err := w.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(exec.Context(), http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
		return w.client.Do(httpReq)
	})
	if err != nil {
		// The timeout policy cancels the execution context, so the client may
		// surface the cancellation instead of ErrExceeded.
		if errors.Is(err, timeout.ErrExceeded) || (ctx.Err() == nil && errors.Is(err, context.Canceled)) {
			return Result{}, &Failure{Code: "TIMEOUT", Message: "publish relay did not answer in time"}
		}
		return Result{}, fmt.Errorf("post to relay: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read relay response: %w", err)
	}

	var reply webhookReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f := &Failure{Code: reply.Code, Message: reply.Error, Response: string(raw)}
		if f.Message == "" {
			f.Message = fmt.Sprintf("relay returned HTTP %d", resp.StatusCode)
		}
		if f.Code == "" {
			f.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return Result{}, f
	}
	if decodeErr != nil {
		return Result{}, &Failure{Code: "BAD_RESPONSE", Message: "relay response is not JSON", Response: string(raw)}
	}
	if reply.PostID == "" {
		return Result{}, &Failure{Code: "BAD_RESPONSE", Message: "relay response has no post_id", Response: string(raw)}
	}
	return Result{PlatformPostID: reply.PostID, Response: string(raw)}, nil
}
