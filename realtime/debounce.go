package realtime

import (
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet window of a Debouncer.
const DefaultDebounce = 200 * time.Millisecond

// Debouncer coalesces bursts of invalidation requests. Every Add resets a
// single-shot timer; when the window passes without a new Add, fire runs
// once with the union of the collections added since the last fire.
type Debouncer struct {
	window  time.Duration
	fire    func(collections []string)
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer. A non-positive window uses
// DefaultDebounce.
func NewDebouncer(window time.Duration, fire func(collections []string)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{
		window:  window,
		fire:    fire,
		pending: make(map[string]struct{}),
	}
}

// Add schedules collections for invalidation and restarts the window.
func (d *Debouncer) Add(collections ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	for _, c := range collections {
		d.pending[c] = struct{}{}
	}
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
}

// expire fires unless a later Add superseded gen.
func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	collections := d.take()
	d.mu.Unlock()

	if len(collections) > 0 {
		d.fire(collections)
	}
}

// take must be called with mu held.
func (d *Debouncer) take() []string {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	out := make([]string, 0, len(d.pending))
	for c := range d.pending {
		out = append(out, c)
	}
	sort.Strings(out)
	d.pending = make(map[string]struct{})
	return out
}

// Pending reports whether collections are waiting for the window to pass.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

// Flush fires pending collections now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.gen++
	collections := d.take()
	d.mu.Unlock()

	if len(collections) > 0 {
		d.fire(collections)
	}
}

// Stop cancels the pending fire. Later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	d.take()
}
