package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Waiter holds a one-shot subscription armed before the action that will
// trigger the awaited event.
type Waiter struct {
	d      Dispatcher
	typ    EventType
	handle Handle
	ch     chan Args
	once   sync.Once
}

// Await subscribes to the next typ event whose URL matches m (nil matches all).
func Await(d Dispatcher, typ EventType, m URLMatcher) *Waiter {
	w := &Waiter{d: d, typ: typ, ch: make(chan Args, 1)}
	w.handle = d.AddCallback(typ, Callback{
		URLPattern: m,
		Fn: func(args Args) {
			select {
			case w.ch <- args:
			default:
			}
		},
	})
	return w
}

// Wait blocks until the event arrives, timeout elapses, or ctx is done.
// A timeout <= 0 waits on ctx alone. An expired ctx deadline is reported as
// ErrTimeout like the timer; plain cancellation returns ctx.Err().
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (Args, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case args := <-w.ch:
		return args, nil
	case <-expired:
		w.Cancel()
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, w.typ, timeout)
	case <-ctx.Done():
		w.Cancel()
		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, w.typ, err)
		}
		return nil, ctx.Err()
	}
}

// Cancel drops the subscription if it has not fired yet.
func (w *Waiter) Cancel() {
	w.once.Do(func() {
		w.d.RemoveCallback(w.typ, w.handle)
	})
}
