// Package stub provides a scripted in-memory environment for tests and dry runs.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goose/internal/environment"

	"github.com/ysmood/gson"
)

// Name is the driver name the stub registers under.
const Name = "stub"

func init() {
	environment.Register(Name, func(opts environment.Options) (environment.Environment, error) {
		return New(opts), nil
	})
}

// Evaluator answers scripts not found in Environment.Scripts.
type Evaluator func(js string, args []any) (any, error)

// MouseEvent records one simulated input action.
type MouseEvent struct {
	Op       string
	Selector string
}

type queuedEvent struct {
	typ  environment.EventType
	url  string
	args environment.Args
}

// Environment serves pages and script results from maps and emits events
// the way a real driver would.
type Environment struct {
	*environment.Base

	Pages     map[string]string // url -> html
	Scripts   map[string]any    // js -> result
	Evaluator Evaluator
	Links     map[string]string // selector -> url followed by MouseClick

	mu         sync.Mutex
	prepared   bool
	current    string
	history    []string
	pendingNav *environment.Waiter
	queued     []queuedEvent
	injected   []string
	mouse      []MouseEvent
	tearDowns  int
}

var _ environment.Environment = (*Environment)(nil)

// New returns an empty stub environment.
func New(opts environment.Options) *Environment {
	return &Environment{
		Base:    environment.NewBase(Name, opts),
		Pages:   map[string]string{},
		Scripts: map[string]any{},
		Links:   map[string]string{},
	}
}

func (e *Environment) Prepare(ctx context.Context) error {
	if err := e.Base.Prepare(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.prepared = true
	e.mu.Unlock()
	return nil
}

func (e *Environment) TearDown(ctx context.Context) error {
	e.mu.Lock()
	e.prepared = false
	e.tearDowns++
	w := e.pendingNav
	e.pendingNav = nil
	e.mu.Unlock()
	if w != nil {
		w.Cancel()
	}
	return e.Base.TearDown(ctx)
}

// Prepared reports whether Prepare ran without a later TearDown.
func (e *Environment) Prepared() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepared
}

// TearDowns counts TearDown calls.
func (e *Environment) TearDowns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tearDowns
}

func (e *Environment) EvaluateJs(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.New(nil), err
	}
	e.mu.Lock()
	v, ok := e.Scripts[js]
	eval := e.Evaluator
	e.mu.Unlock()
	if ok {
		return gson.New(v), nil
	}
	if eval != nil {
		v, err := eval(js, args)
		if err != nil {
			return gson.New(nil), err
		}
		return gson.New(v), nil
	}
	return e.Base.EvaluateJs(ctx, js, args...)
}

func (e *Environment) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if _, ok := e.Pages[url]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("failed to navigate: no page for %s", url)
	}
	if e.current != "" {
		e.history = append(e.history, e.current)
	}
	e.mu.Unlock()
	e.navigate(url)
	return nil
}

func (e *Environment) navigate(url string) {
	w := environment.Await(e, environment.EventNavigation, nil)
	e.mu.Lock()
	stale := e.pendingNav
	e.pendingNav = w
	e.current = url
	e.mu.Unlock()
	if stale != nil {
		stale.Cancel()
	}
	e.EvaluateCallbacks(environment.EventNavigation, url, environment.Args{"url": url})
}

// URL returns the current page URL.
func (e *Environment) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// HTML returns the markup of the current page.
func (e *Environment) HTML() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Pages[e.current]
}

func (e *Environment) WaitForPage(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	w := e.pendingNav
	e.pendingNav = nil
	e.mu.Unlock()
	if w == nil {
		w = environment.Await(e, environment.EventNavigation, nil)
	}
	e.flush(func(typ environment.EventType) bool { return typ != environment.EventRequest })
	_, err := w.Wait(ctx, timeout)
	return err
}

func (e *Environment) WaitForQuery(ctx context.Context, uri environment.URLMatcher, timeout time.Duration) (environment.Args, error) {
	w := environment.Await(e, environment.EventRequest, uri)
	e.Flush()
	return w.Wait(ctx, timeout)
}

func (e *Environment) Back(ctx context.Context) error {
	e.mu.Lock()
	if len(e.history) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("failed to go back: no history")
	}
	prev := e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]
	e.mu.Unlock()
	e.navigate(prev)
	return nil
}

func (e *Environment) MouseDown(ctx context.Context, selector string) error {
	e.recordMouse("down", selector)
	return nil
}

func (e *Environment) MouseUp(ctx context.Context, selector string) error {
	e.recordMouse("up", selector)
	return nil
}

func (e *Environment) MouseMove(ctx context.Context, selector string) error {
	e.recordMouse("move", selector)
	return nil
}

func (e *Environment) MouseClick(ctx context.Context, selector string) error {
	e.recordMouse("click", selector)
	e.mu.Lock()
	target, ok := e.Links[selector]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Goto(ctx, target)
}

func (e *Environment) recordMouse(op, selector string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mouse = append(e.mouse, MouseEvent{Op: op, Selector: selector})
}

// MouseEvents returns the recorded input actions.
func (e *Environment) MouseEvents() []MouseEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]MouseEvent(nil), e.mouse...)
}

func (e *Environment) InjectFiles(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.injected = append(e.injected, paths...)
	return nil
}

// Injected returns every injected path in order.
func (e *Environment) Injected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.injected...)
}

// Queue defers an event until it is flushed. WaitForPage flushes everything
// except request events nobody subscribed to yet, which are held for
// WaitForQuery.
func (e *Environment) Queue(typ environment.EventType, url string, args environment.Args) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queued = append(e.queued, queuedEvent{typ: typ, url: url, args: args})
}

// Flush dispatches all queued events in order. Error events also reach errbacks.
func (e *Environment) Flush() {
	e.flush(func(environment.EventType) bool { return true })
}

func (e *Environment) flush(want func(environment.EventType) bool) {
	e.mu.Lock()
	var ready, held []queuedEvent
	for _, ev := range e.queued {
		if want(ev.typ) || e.Callbacks().Len(ev.typ) > 0 {
			ready = append(ready, ev)
		} else {
			held = append(held, ev)
		}
	}
	e.queued = held
	e.mu.Unlock()
	for _, ev := range ready {
		e.EvaluateCallbacks(ev.typ, ev.url, ev.args)
		if ev.typ == environment.EventError {
			e.fireErrbacks(ev)
		}
	}
}

func (e *Environment) fireErrbacks(ev queuedEvent) {
	msg, _ := ev.args["message"].(string)
	if msg == "" {
		msg = "page error"
	}
	e.mu.Lock()
	fns := e.Errbacks().Snapshot()
	e.mu.Unlock()
	err := fmt.Errorf("%s: %s", ev.url, msg)
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Environment) AddCallback(typ environment.EventType, cb environment.Callback) environment.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Callbacks().Add(typ, cb)
}

func (e *Environment) RemoveCallback(typ environment.EventType, h environment.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Callbacks().Remove(typ, h)
}

// EvaluateCallbacks pops matches under the lock and runs them outside it, so
// callbacks may register or remove subscriptions.
func (e *Environment) EvaluateCallbacks(typ environment.EventType, url string, args environment.Args) {
	for {
		e.mu.Lock()
		cb, ok := e.Callbacks().Pop(typ, url)
		e.mu.Unlock()
		if !ok {
			return
		}
		if cb.Fn != nil {
			cb.Fn(args)
		}
	}
}

func (e *Environment) AddErrback(fn environment.Errback) environment.ErrbackHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Errbacks().Add(fn)
}

func (e *Environment) RemoveErrback(h environment.ErrbackHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Errbacks().Remove(h)
}
