// Package probe keeps a periodically refreshed belief about whether the
// news API's backing database is reachable.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultInterval = 60 * time.Second
	defaultTimeout  = 5 * time.Second

	maxBodySize = 1 << 20 // 1MB
)

// Store persists applied probe results.
type Store interface {
	InsertProbe(ctx context.Context, s Status) error
}

// Options configures a Prober.
type Options struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Headers  map[string]string
	// Client defaults to a client without a global timeout; Timeout is
	// applied per request.
	Client *http.Client
}

// Prober polls a health endpoint on a fixed interval and exposes the latest
// result to any number of readers.
type Prober struct {
	opts   Options
	client *http.Client
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	status  Status
	subs    map[int]func(cur, prev Status)
	nextSub int
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Prober in the checking phase. store may be nil. Pass nil
// logger to use the default logger.
func New(opts Options, store Store, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{
		opts:   opts,
		client: client,
		store:  store,
		logger: logger,
		status: initialStatus(),
		subs:   make(map[int]func(cur, prev Status)),
	}
}

// Start probes immediately and then once per interval until ctx is
// cancelled or Stop is called. It is non-blocking. Probes run one at a time
// on a single goroutine, so a slow probe delays the next tick rather than
// overlapping it.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop cancels the polling loop and any in-flight probe, then waits for the
// loop to exit. Results of a probe that completes after Stop are dropped.
// Stop is idempotent and safe to call before Start.
func (p *Prober) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Status returns the last applied result without probing.
func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Subscribe registers fn to be called after every applied probe with the new
// and previous status. The returned function removes the subscription.
func (p *Prober) Subscribe(fn func(cur, prev Status)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	result := p.Probe(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	prev := p.status
	p.status = result
	subs := make([]func(cur, prev Status), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	p.logger.Info("probe result",
		"phase", result.Phase,
		"latency", result.Latency,
		"message", result.Message,
	)

	if p.store != nil {
		if err := p.store.InsertProbe(ctx, result); err != nil {
			p.logger.Error("storing probe result", "error", err)
		}
	}

	for _, fn := range subs {
		fn(result, prev)
	}
}

type healthBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Message  string `json:"message"`
}

// Probe performs a single health request and classifies it. It never
// modifies the shared status; Start's loop does that.
func (p *Prober) Probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	result := p.classify(ctx)
	result.Latency = time.Since(start)
	result.CheckedAt = start
	return result
}

func (p *Prober) classify(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		p.logger.Warn("creating probe request", "url", p.opts.URL, "error", err)
		return unreachable(MsgCheckFailed)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe transport failure", "url", p.opts.URL, "error", err)
		return unreachable(MsgCheckFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return unreachable(MsgCheckFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var hb healthBody
		if err := json.Unmarshal(body, &hb); err != nil || hb.Message == "" {
			return unreachable(MsgUnavailable)
		}
		return unreachable(hb.Message)
	}

	var hb healthBody
	if err := json.Unmarshal(body, &hb); err != nil {
		p.logger.Debug("decoding probe body", "error", fmt.Errorf("status %d: %w", resp.StatusCode, err))
		return unreachable(MsgCheckFailed)
	}
	if hb.Database != ConnectedSentinel {
		if hb.Message == "" {
			return unreachable(MsgUnavailable)
		}
		return unreachable(hb.Message)
	}
	return healthy(hb.Message)
}
