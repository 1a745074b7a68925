// Package widget binds configured widgets to fetch state machines.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sync"

	"github.com/hazz-dev/newsdesk/internal/config"
	"github.com/hazz-dev/newsdesk/internal/fetchstate"
	"github.com/hazz-dev/newsdesk/internal/newsapi"
)

// ErrNotFound is returned for an unknown widget name.
var ErrNotFound = errors.New("widget not found")

// API builds fetch operations; *newsapi.Client implements it.
type API interface {
	Get(path string, query url.Values) fetchstate.FetchFunc
	Feed(feedURL string) fetchstate.FetchFunc
}

// View is a widget's current state as served to clients.
type View struct {
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Params       map[string]string `json:"params,omitempty"`
	Phase        fetchstate.Phase  `json:"phase"`
	Data         json.RawMessage   `json:"data,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	EmptyMessage string            `json:"empty_message,omitempty"`
}

type widget struct {
	cfg     config.Widget
	machine *fetchstate.Machine[json.RawMessage]

	mu     sync.RWMutex
	params map[string]string
}

func (w *widget) currentParams() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.params)
}

func (w *widget) view(st fetchstate.State[json.RawMessage]) View {
	return View{
		Name:         w.cfg.Name,
		Kind:         w.cfg.Kind,
		Params:       w.currentParams(),
		Phase:        st.Phase,
		Data:         st.Data,
		ErrorMessage: st.ErrorMessage,
		EmptyMessage: st.EmptyMessage,
	}
}

func (w *widget) fetch(api API) fetchstate.FetchFunc {
	return func(ctx context.Context) (fetchstate.Response, error) {
		if w.cfg.Kind == config.KindFeed {
			return api.Feed(w.cfg.FeedURL)(ctx)
		}
		path, query, err := newsapi.Endpoint(w.cfg.Kind, w.currentParams())
		if err != nil {
			return nil, fmt.Errorf("widget %q: %w", w.cfg.Name, err)
		}
		return api.Get(path, query)(ctx)
	}
}

// dependencies turns params into an ordered list so that any added,
// removed, or changed value is seen as a change.
func dependencies(params map[string]string) []any {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	deps := make([]any, 0, len(keys))
	for _, k := range keys {
		deps = append(deps, k+"="+params[k])
	}
	return deps
}

// Registry owns one state machine per configured widget.
type Registry struct {
	widgets map[string]*widget
	order   []string
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(View)
	nextSub int
}

// New binds every widget to source and api. Widgets not marked manual start
// loading immediately. Pass nil logger to use the default logger.
func New(widgets []config.Widget, source fetchstate.ConnectivitySource, api API, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		widgets: make(map[string]*widget, len(widgets)),
		logger:  logger,
		subs:    make(map[int]func(View)),
	}
	for _, cfg := range widgets {
		w := &widget{cfg: cfg, params: maps.Clone(cfg.Params)}
		w.machine = fetchstate.New(source, w.fetch(api), fetchstate.Options[json.RawMessage]{
			EmptyMessage: cfg.EmptyMessage,
			ErrorMessage: cfg.ErrorMessage,
			Dependencies: dependencies(w.params),
			Manual:       cfg.Manual,
		}, logger.With("widget", cfg.Name))
		w.machine.Subscribe(func(st fetchstate.State[json.RawMessage]) {
			r.publish(w.view(st))
		})
		r.widgets[cfg.Name] = w
		r.order = append(r.order, cfg.Name)
	}
	return r
}

// Subscribe registers fn to receive every widget transition. fn is called
// synchronously and must not block.
func (r *Registry) Subscribe(fn func(View)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) publish(v View) {
	r.logger.Debug("widget transition", "widget", v.Name, "phase", v.Phase)
	r.mu.Lock()
	subs := make([]func(View), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Names returns widget names in configuration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// List returns every widget's view in configuration order.
func (r *Registry) List() []View {
	views := make([]View, 0, len(r.order))
	for _, name := range r.order {
		w := r.widgets[name]
		views = append(views, w.view(w.machine.State()))
	}
	return views
}

// Get returns the named widget's view.
func (r *Registry) Get(name string) (View, error) {
	w, ok := r.widgets[name]
	if !ok {
		return View{}, ErrNotFound
	}
	return w.view(w.machine.State()), nil
}

// Refetch re-runs the named widget's fetch and returns its view afterwards.
func (r *Registry) Refetch(ctx context.Context, name string) (View, error) {
	w, ok := r.widgets[name]
	if !ok {
		return View{}, ErrNotFound
	}
	return w.view(w.machine.Refetch(ctx)), nil
}

// SetParams replaces the named widget's query parameters. A change re-runs
// the fetch in the background.
func (r *Registry) SetParams(name string, params map[string]string) (View, error) {
	w, ok := r.widgets[name]
	if !ok {
		return View{}, ErrNotFound
	}
	if w.cfg.Kind == config.KindArticle || w.cfg.Kind == config.KindRelated {
		if params["id"] == "" {
			return View{}, fmt.Errorf("widget %q requires an id parameter", name)
		}
	}
	w.mu.Lock()
	w.params = maps.Clone(params)
	w.mu.Unlock()

	w.machine.SetDependencies(dependencies(params)...)
	return w.view(w.machine.State()), nil
}

// Close unbinds every widget.
func (r *Registry) Close() {
	for _, name := range r.order {
		r.widgets[name].machine.Close()
	}
}
