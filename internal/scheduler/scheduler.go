// Package scheduler drives the periodic publish and intake runs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postgate/internal/publish"
)

// Actor is recorded in the audit log for scheduler-initiated publish runs.
const Actor = "system:scheduler"

const defaultBatch = 10

// DuePublisher processes scheduled content that is due.
type DuePublisher interface {
	ProcessDue(ctx context.Context, actor string, limit int) ([]publish.Outcome, error)
}

// Importer turns due intake sources into drafts.
type Importer interface {
	ImportDue(ctx context.Context) (int, error)
}

// Scheduler periodically publishes due content and imports new drafts.
type Scheduler struct {
	publisher DuePublisher
	importer  Importer
	log       *slog.Logger

	publishTick time.Duration
	intakeTick  time.Duration
	batch       int
}

// New creates a Scheduler. importer may be nil to disable intake.
func New(publisher DuePublisher, importer Importer, log *slog.Logger) *Scheduler {
	return &Scheduler{
		publisher:   publisher,
		importer:    importer,
		log:         log,
		publishTick: 1 * time.Minute,
		intakeTick:  5 * time.Minute,
		batch:       defaultBatch,
	}
}

// SetTickIntervals overrides the default publish and intake intervals.
func (s *Scheduler) SetTickIntervals(publishTick, intakeTick time.Duration) {
	if publishTick > 0 {
		s.publishTick = publishTick
	}
	if intakeTick > 0 {
		s.intakeTick = intakeTick
	}
}

// SetBatch limits how many due items one publish tick processes.
func (s *Scheduler) SetBatch(n int) {
	if n > 0 {
		s.batch = n
	}
}

// Run starts both loops, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop(ctx, s.publishTick, s.publishDue)
	}()
	if s.importer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx, s.intakeTick, s.importDue)
		}()
	}
	wg.Wait()
}

func loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) publishDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	outcomes, err := s.publisher.ProcessDue(ctx, Actor, s.batch)
	if err != nil {
		s.log.Error("process due content", "error", err)
		return
	}
	counts := make(map[publish.Decision]int)
	for _, o := range outcomes {
		counts[o.Decision]++
	}
	if len(outcomes) > 0 {
		s.log.Info("publish tick",
			"processed", len(outcomes),
			"posted", counts[publish.DecisionPosted],
			"blocked", counts[publish.DecisionBlocked],
			"failed", counts[publish.DecisionFailed],
		)
	}
}

func (s *Scheduler) importDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.importer.ImportDue(ctx)
	if err != nil {
		s.log.Error("import due sources", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("intake tick", "drafts", n)
	}
}
