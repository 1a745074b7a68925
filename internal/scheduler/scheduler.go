// Package scheduler refreshes widgets on their configured intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/newsdesk/internal/config"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

// Refresher re-runs a widget's fetch. *widget.Registry implements it.
type Refresher interface {
	Refetch(ctx context.Context, name string) (widget.View, error)
}

// Scheduler refreshes each widget with a positive refresh interval in its
// own goroutine. Widgets without one are left to load on bind or on demand.
type Scheduler struct {
	widgets   []config.Widget
	refresher Refresher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New creates a new Scheduler. Pass nil logger to use the default logger.
func New(widgets []config.Widget, refresher Refresher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		widgets:   widgets,
		refresher: refresher,
		logger:    logger,
	}
}

// Start spawns one goroutine per refreshing widget. It is non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	for _, w := range s.widgets {
		if w.Refresh.Duration <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.runWidget(ctx, w)
	}
}

// Wait blocks until all widget goroutines have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runWidget(ctx context.Context, w config.Widget) {
	defer s.wg.Done()

	// The registry already loads on bind; the first refresh waits a full interval.
	ticker := time.NewTicker(w.Refresh.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, w.Name)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, name string) {
	v, err := s.refresher.Refetch(ctx, name)
	if err != nil {
		s.logger.Error("refreshing widget", "widget", name, "error", err)
		return
	}
	s.logger.Info("widget refreshed",
		"widget", name,
		"phase", v.Phase,
		"error", v.ErrorMessage,
	)
}
