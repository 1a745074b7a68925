package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/newsdesk/internal/config"
	"github.com/hazz-dev/newsdesk/internal/fetchstate"
	"github.com/hazz-dev/newsdesk/internal/scheduler"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

// mockRefresher records refetched widget names.
type mockRefresher struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *mockRefresher) Refetch(_ context.Context, name string) (widget.View, error) {
	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()
	if m.err != nil {
		return widget.View{}, m.err
	}
	return widget.View{Name: name, Phase: fetchstate.PhaseReady}, nil
}

func (m *mockRefresher) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, got := range m.names {
		if got == name {
			n++
		}
	}
	return n
}

func makeWidgets(refresh time.Duration) []config.Widget {
	return []config.Widget{
		{Name: "latest", Kind: config.KindArticles, Refresh: config.Duration{Duration: refresh}},
	}
}

func TestScheduler_RunsPeriodicRefreshes(t *testing.T) {
	ref := &mockRefresher{}
	sched := scheduler.New(makeWidgets(50*time.Millisecond), ref, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	// ~5 ticks in 300ms with a 50ms interval
	if n := ref.count("latest"); n < 3 {
		t.Errorf("expected at least 3 refreshes in 300ms, got %d", n)
	}
}

func TestScheduler_NoImmediateRefresh(t *testing.T) {
	ref := &mockRefresher{}
	sched := scheduler.New(makeWidgets(time.Hour), ref, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	sched.Wait()

	if n := ref.count("latest"); n != 0 {
		t.Errorf("expected no refresh before the first interval, got %d", n)
	}
}

func TestScheduler_SkipsWidgetsWithoutRefresh(t *testing.T) {
	ref := &mockRefresher{}
	widgets := []config.Widget{
		{Name: "static", Kind: config.KindCategories},
		{Name: "live", Kind: config.KindBreaking, Refresh: config.Duration{Duration: 20 * time.Millisecond}},
	}
	sched := scheduler.New(widgets, ref, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if n := ref.count("static"); n != 0 {
		t.Errorf("widget without refresh interval was refreshed %d times", n)
	}
	if n := ref.count("live"); n < 1 {
		t.Error("expected the live widget to be refreshed")
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	sched := scheduler.New(makeWidgets(time.Hour), &mockRefresher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Wait() did not return within 2s after context cancel")
	}
}

func TestScheduler_RefetchErrorDoesNotCrash(t *testing.T) {
	ref := &mockRefresher{err: errors.New("widget not found")}
	sched := scheduler.New(makeWidgets(20*time.Millisecond), ref, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Should keep ticking after a failed refresh
	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if n := ref.count("latest"); n < 2 {
		t.Errorf("expected refreshes to continue after errors, got %d", n)
	}
}
