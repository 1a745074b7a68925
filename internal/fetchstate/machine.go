// Package fetchstate wraps one asynchronous fetch operation in a uniform
// loading / error / empty / ready view that is gated by backend
// connectivity.
//
// A Machine is bound by New and unbound by Close. Between the two it re-runs
// its fetch when connectivity changes, when its dependency values change, and
// when Refetch is called. Runs may overlap; only the most recently started
// run is allowed to update the visible state.
package fetchstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/hazz-dev/newsdesk/internal/probe"
)

// Phase is where a Machine currently is.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseError   Phase = "error"
	PhaseEmpty   Phase = "empty"
	PhaseReady   Phase = "ready"
)

// Default messages used when Options leaves them blank.
const (
	DefaultErrorMessage = "Failed to load data"
	DefaultEmptyMessage = "No data available"
)

// State is the observable result of a Machine. ErrorMessage is set only in
// PhaseError and EmptyMessage only in PhaseEmpty.
type State[T any] struct {
	Data         T      `json:"data"`
	Phase        Phase  `json:"phase"`
	ErrorMessage string `json:"error_message,omitempty"`
	EmptyMessage string `json:"empty_message,omitempty"`
}

// FetchFunc performs one fetch. Returning an error means a transport or
// parse failure; a Response with a non-2xx status is an application error.
type FetchFunc func(ctx context.Context) (Response, error)

// ConnectivitySource is the read side of a probe.Prober.
type ConnectivitySource interface {
	Status() probe.Status
	Subscribe(fn func(cur, prev probe.Status)) (unsubscribe func())
}

// Options configures a Machine.
type Options[T any] struct {
	// InitialData is Data before the first successful load and after any
	// failure.
	InitialData  T
	EmptyMessage string
	ErrorMessage string
	// Dependencies are compared element-wise on SetDependencies; a change
	// re-runs the fetch.
	Dependencies []any
	// Manual suppresses the run on bind. Dependency changes still re-run,
	// connectivity changes only once the machine has run.
	Manual bool
}

// Machine is a bound fetch operation. All methods are safe for concurrent
// use.
type Machine[T any] struct {
	source ConnectivitySource
	fetch  FetchFunc
	opts   Options[T]
	logger *slog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu          sync.Mutex
	state       State[T]
	gen         uint64
	deps        []any
	connected   bool
	unreachable bool
	ran         bool
	closed      bool
	subs        map[int]func(State[T])
	nextSub     int

	// notifyMu is taken before mu and keeps subscriber deliveries in the
	// order states were applied.
	notifyMu sync.Mutex
}

// New binds fetch to source and, unless opts.Manual is set, starts the first
// run in the background. Pass nil logger to use the default logger.
func New[T any](source ConnectivitySource, fetch FetchFunc, opts Options[T], logger *slog.Logger) *Machine[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ErrorMessage == "" {
		opts.ErrorMessage = DefaultErrorMessage
	}
	if opts.EmptyMessage == "" {
		opts.EmptyMessage = DefaultEmptyMessage
	}
	opts.Dependencies = cloneDeps(opts.Dependencies)

	ctx, cancel := context.WithCancel(context.Background())
	st := source.Status()
	m := &Machine[T]{
		source:      source,
		fetch:       fetch,
		opts:        opts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       State[T]{Data: opts.InitialData, Phase: PhaseLoading},
		deps:        opts.Dependencies,
		connected:   st.IsConnected,
		unreachable: st.Phase == probe.PhaseUnreachable,
		subs:        make(map[int]func(State[T])),
	}
	m.unsubscribe = source.Subscribe(m.onConnectivity)

	if !opts.Manual {
		m.trigger()
	}
	return m
}

// State returns the current state.
func (m *Machine[T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to receive every state transition, in order.
// fn must not call Refetch or Close synchronously. The returned function
// removes the subscription.
func (m *Machine[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Refetch runs the fetch now and returns the state once this run has
// resolved. If a later run was started in the meantime, the returned state
// is whatever is current; this run's result is discarded. After Close it
// returns the last state without fetching.
func (m *Machine[T]) Refetch(ctx context.Context) State[T] {
	m.mu.Lock()
	if m.closed {
		st := m.state
		m.mu.Unlock()
		return st
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	return m.run(ctx)
}

// SetDependencies replaces the dependency values. If any element differs
// from the previous list, the fetch re-runs in the background.
func (m *Machine[T]) SetDependencies(deps ...any) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	changed := !equalDeps(m.deps, deps)
	m.deps = cloneDeps(deps)
	m.mu.Unlock()

	if changed {
		m.trigger()
	}
}

// Close unbinds the machine: it stops listening for connectivity changes,
// cancels in-flight runs, drops their results, and waits for them to exit.
// No subscriber is called after Close returns. Close is idempotent.
func (m *Machine[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.subs = make(map[int]func(State[T]))
	m.mu.Unlock()

	m.unsubscribe()
	m.cancel()
	m.wg.Wait()
}

func (m *Machine[T]) onConnectivity(cur, _ probe.Status) {
	m.mu.Lock()
	changed := cur.IsConnected != m.connected ||
		(cur.Phase == probe.PhaseUnreachable) != m.unreachable
	m.connected = cur.IsConnected
	m.unreachable = cur.Phase == probe.PhaseUnreachable
	rerun := changed && !m.closed && (!m.opts.Manual || m.ran)
	m.mu.Unlock()

	if rerun {
		m.trigger()
	}
}

// trigger starts a run in the background.
func (m *Machine[T]) trigger() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.run(m.ctx)
	}()
}

// run executes one fetch cycle. The generation captured at the start is
// checked before every state change so that stale completions are ignored.
func (m *Machine[T]) run(ctx context.Context) State[T] {
	status := m.source.Status()

	m.mu.Lock()
	if m.closed {
		st := m.state
		m.mu.Unlock()
		return st
	}
	m.gen++
	gen := m.gen
	m.ran = true
	m.mu.Unlock()

	if status.Phase == probe.PhaseUnreachable {
		msg := status.Message
		if msg == "" {
			msg = m.opts.ErrorMessage
		}
		return m.commit(gen, func(State[T]) State[T] { return m.failed(msg) })
	}

	m.commit(gen, func(prev State[T]) State[T] {
		return State[T]{Data: prev.Data, Phase: PhaseLoading}
	})

	next := m.execute(ctx)
	return m.commit(gen, func(State[T]) State[T] { return next })
}

// commit applies build's state if gen is still the latest run and the
// machine is bound, then delivers it to subscribers. It returns the state
// current after the call.
func (m *Machine[T]) commit(gen uint64, build func(prev State[T]) State[T]) State[T] {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		st := m.state
		m.mu.Unlock()
		return st
	}
	st := build(m.state)
	m.state = st
	subs := make([]func(State[T]), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return st
}

func (m *Machine[T]) failed(msg string) State[T] {
	return State[T]{Data: m.opts.InitialData, Phase: PhaseError, ErrorMessage: msg}
}

// execute calls the fetch operation and classifies its outcome. It never
// panics; a panicking fetch is reported as a transport failure.
func (m *Machine[T]) execute(ctx context.Context) (next State[T]) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			m.logger.Error("fetch panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			next = m.failed(m.opts.ErrorMessage)
		}
	}()

	resp, err := m.fetch(ctx)
	if err != nil {
		m.logger.Warn("fetch failed", "error", err)
		return m.failed(m.opts.ErrorMessage)
	}
	if resp == nil {
		m.logger.Warn("fetch returned no response")
		return m.failed(m.opts.ErrorMessage)
	}

	var raw json.RawMessage
	decodeErr := resp.Decode(&raw)

	if !resp.OK() {
		msg := m.opts.ErrorMessage
		if decodeErr == nil {
			if env := parseEnvelope(raw); env.Message != "" {
				msg = env.Message
			}
		}
		m.logger.Warn("fetch returned error status", "status", resp.StatusCode(), "message", msg)
		return m.failed(msg)
	}

	if decodeErr != nil {
		m.logger.Warn("decoding fetch payload", "status", resp.StatusCode(), "error", decodeErr)
		return m.failed(m.opts.ErrorMessage)
	}

	if env := parseEnvelope(raw); env.empty() {
		msg := env.Message
		if msg == "" {
			msg = m.opts.EmptyMessage
		}
		return State[T]{Data: m.opts.InitialData, Phase: PhaseEmpty, EmptyMessage: msg}
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		m.logger.Warn("decoding fetch payload", "error", err)
		return m.failed(m.opts.ErrorMessage)
	}
	return State[T]{Data: data, Phase: PhaseReady}
}

func equalDeps(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func cloneDeps(deps []any) []any {
	if deps == nil {
		return nil
	}
	out := make([]any, len(deps))
	copy(out, deps)
	return out
}
