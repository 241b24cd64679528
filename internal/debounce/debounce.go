// Package debounce turns a rapidly changing string input into a stable value.
package debounce

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the input must stay unchanged before it is emitted.
const DefaultQuietPeriod = 500 * time.Millisecond

// Debouncer emits the last observed value once the input has been quiet for
// the configured interval. Values equal to the previous emission are dropped.
//
// emit is called from a timer goroutine (or from Flush) and must not call back
// into the Debouncer.
type Debouncer struct {
	interval time.Duration
	emit     func(string)

	// emitting is held across the check-and-emit so Stop can wait out an
	// emission already under way.
	emitting sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	armed   bool
	gen     uint64
	last    string
	stopped bool
}

// New creates a Debouncer whose initial stable value is initial.
func New(interval time.Duration, initial string, emit func(string)) *Debouncer {
	if interval <= 0 {
		interval = DefaultQuietPeriod
	}
	return &Debouncer{interval: interval, emit: emit, last: initial}
}

// Observe records a new raw value and restarts the quiet period.
func (d *Debouncer) Observe(raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending = raw
	d.armed = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.emitting.Lock()
	defer d.emitting.Unlock()

	d.mu.Lock()
	// A newer Observe, Cancel or Stop supersedes this timer.
	if d.stopped || !d.armed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	value, ok := d.take()
	d.mu.Unlock()

	if ok {
		d.emit(value)
	}
}

// take disarms the pending value and reports whether it differs from the last
// emission. Callers hold d.mu.
func (d *Debouncer) take() (string, bool) {
	d.armed = false
	if d.pending == d.last {
		return "", false
	}
	d.last = d.pending
	return d.pending, true
}

// Flush emits a pending value immediately instead of waiting for the quiet period.
func (d *Debouncer) Flush() {
	d.emitting.Lock()
	defer d.emitting.Unlock()

	d.mu.Lock()
	if d.stopped || !d.armed {
		d.mu.Unlock()
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	value, ok := d.take()
	d.mu.Unlock()

	if ok {
		d.emit(value)
	}
}

// Cancel drops a pending value without emitting it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Reset drops a pending value and records value as already emitted, for
// callers that committed it through another path.
func (d *Debouncer) Reset(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = value
	d.last = value
}

// Stop cancels any pending value; nothing is emitted after Stop returns.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.armed = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.emitting.Lock()
	d.emitting.Unlock() //nolint:staticcheck // waits for an in-flight emit
}

// Value returns the last emitted value.
func (d *Debouncer) Value() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
