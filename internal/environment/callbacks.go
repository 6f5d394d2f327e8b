package environment

import (
	"regexp"
	"strings"
)

// EventType names a category of environment event. The canonical types are
// listed below; drivers may emit other values.
type EventType string

const (
	EventNavigation EventType = "navigation"
	EventRequest    EventType = "request"
	EventError      EventType = "error"
)

// Args carries event details to a callback.
type Args map[string]any

// URLMatcher filters events by the URL they are associated with.
type URLMatcher interface {
	MatchURL(url string) bool
}

// Substring matches any URL containing it.
type Substring string

func (s Substring) MatchURL(url string) bool {
	return strings.Contains(url, string(s))
}

// Regexp matches URLs against a compiled expression.
type Regexp struct {
	Re *regexp.Regexp
}

// MatchRegexp compiles expr into a URLMatcher.
func MatchRegexp(expr string) (Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Regexp{}, err
	}
	return Regexp{Re: re}, nil
}

func (r Regexp) MatchURL(url string) bool {
	return r.Re != nil && r.Re.MatchString(url)
}

// Callback is a one-shot event subscription. URLPattern is optional.
type Callback struct {
	Fn         func(Args)
	URLPattern URLMatcher
}

func (c Callback) matches(url string) bool {
	if c.URLPattern == nil || url == "" {
		return true
	}
	return c.URLPattern.MatchURL(url)
}

// Handle identifies one registration in a CallbackRegistry.
type Handle uint64

type entry struct {
	handle   Handle
	callback Callback
}

// CallbackRegistry keeps ordered, per-type queues of pending callbacks.
// It is not safe for concurrent use; drivers that receive events on other
// goroutines serialize access themselves.
type CallbackRegistry struct {
	queues map[EventType][]entry
	next   Handle
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{queues: make(map[EventType][]entry)}
}

// Add appends cb to the queue for typ. Adding the same function twice
// creates two independent entries.
func (r *CallbackRegistry) Add(typ EventType, cb Callback) Handle {
	r.next++
	r.queues[typ] = append(r.queues[typ], entry{handle: r.next, callback: cb})
	return r.next
}

// Remove drops the entry registered under h. Unknown types or handles are ignored.
func (r *CallbackRegistry) Remove(typ EventType, h Handle) {
	queue := r.queues[typ]
	for i, e := range queue {
		if e.handle == h {
			r.removeAt(typ, i)
			return
		}
	}
}

// Pop removes and returns the first callback for typ that matches url.
func (r *CallbackRegistry) Pop(typ EventType, url string) (Callback, bool) {
	for i, e := range r.queues[typ] {
		if e.callback.matches(url) {
			r.removeAt(typ, i)
			return e.callback, true
		}
	}
	return Callback{}, false
}

// Evaluate fires every callback for typ matching url. Each match is removed
// before it runs and the queue is re-scanned after every call, so callbacks
// may add or remove registrations and the change is seen by this dispatch.
func (r *CallbackRegistry) Evaluate(typ EventType, url string, args Args) {
	for {
		cb, ok := r.Pop(typ, url)
		if !ok {
			return
		}
		if cb.Fn != nil {
			cb.Fn(args)
		}
	}
}

// Len returns the number of pending callbacks for typ.
func (r *CallbackRegistry) Len(typ EventType) int {
	return len(r.queues[typ])
}

func (r *CallbackRegistry) removeAt(typ EventType, i int) {
	queue := r.queues[typ]
	rest := make([]entry, 0, len(queue)-1)
	rest = append(rest, queue[:i]...)
	rest = append(rest, queue[i+1:]...)
	if len(rest) == 0 {
		delete(r.queues, typ)
		return
	}
	r.queues[typ] = rest
}
