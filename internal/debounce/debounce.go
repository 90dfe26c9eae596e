// Package debounce implements the trailing-edge coalescing combinator that
// sits between a watcher and application.requestUpdate: calls arriving
// within the window of the last call collapse into one, and a call that
// lands while the wrapped function is still running queues exactly one
// follow-up rather than piling up a channel of them.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Func is the operation being debounced — in hmrcore this is always
// Application.RequestUpdate, but debounce stays free of any controller
// import so it can wrap anything with this shape.
type Func func(ctx context.Context, url string) error

// Debounced wraps fn behind the window/single-follow-up policy described in
// the concurrency model: Trigger never blocks and never runs fn itself; it
// only arms or re-arms a timer. The timer's fire is what actually calls fn,
// on its own goroutine, serialized so at most one call to fn is in flight
// at a time.
type Debounced struct {
	fn     Func
	window time.Duration

	// OnFired, if set, is called after every actual fn invocation (not
	// every Trigger) with that invocation's error. Tests use this to
	// observe when a coalesced batch actually settled; production callers
	// typically wire it to report.Print / logging.
	OnFired func(url string, err error)

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
	nextURL string
	nextCtx context.Context
}

// New returns a Debounced wrapping fn with the given coalescing window.
func New(window time.Duration, fn Func) *Debounced {
	return &Debounced{fn: fn, window: window}
}

// Trigger records url as the most recent change and (re)arms the debounce
// timer. If the timer is already running it is reset to window, so a burst
// of Trigger calls inside the window fires fn exactly once, with the last
// url recorded.
func (d *Debounced) Trigger(ctx context.Context, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextURL = url
	d.nextCtx = ctx
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	} else {
		d.timer.Reset(d.window)
	}
}

// fire runs on the timer's own goroutine. If fn is already running for an
// earlier fire, this one only sets the pending flag and returns — the
// in-flight call's own post-run check replays it exactly once.
func (d *Debounced) fire() {
	d.mu.Lock()
	if d.running {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx, url := d.nextCtx, d.nextURL
	d.mu.Unlock()

	err := d.fn(ctx, url)
	if d.OnFired != nil {
		d.OnFired(url, err)
	}

	d.mu.Lock()
	d.running = false
	replay := d.pending
	d.pending = false
	d.mu.Unlock()

	if replay {
		d.fire()
	}
}
