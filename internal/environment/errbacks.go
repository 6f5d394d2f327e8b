package environment

// Errback receives errors raised inside the environment.
type Errback func(error)

// ErrbackHandle identifies one errback registration.
type ErrbackHandle uint64

type errbackEntry struct {
	handle ErrbackHandle
	fn     Errback
}

// ErrbackRegistry is the flat, unfiltered error subscription list.
type ErrbackRegistry struct {
	entries []errbackEntry
	next    ErrbackHandle
}

// Add registers fn and returns its handle.
func (r *ErrbackRegistry) Add(fn Errback) ErrbackHandle {
	r.next++
	r.entries = append(r.entries, errbackEntry{handle: r.next, fn: fn})
	return r.next
}

// Remove drops the errback registered under h; unknown handles are ignored.
func (r *ErrbackRegistry) Remove(h ErrbackHandle) {
	kept := r.entries[:0:0]
	for _, e := range r.entries {
		if e.handle != h {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Len returns the number of registered errbacks.
func (r *ErrbackRegistry) Len() int {
	return len(r.entries)
}

// Snapshot returns the registered errbacks in order.
func (r *ErrbackRegistry) Snapshot() []Errback {
	fns := make([]Errback, 0, len(r.entries))
	for _, e := range r.entries {
		if e.fn != nil {
			fns = append(fns, e.fn)
		}
	}
	return fns
}

// Fire calls every errback registered at the time of the call, in order.
func (r *ErrbackRegistry) Fire(err error) {
	for _, fn := range r.Snapshot() {
		fn(err)
	}
}
