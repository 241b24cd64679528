// Package query keeps the current page/search key, a per-key result cache and
// the displayed view consistent while list fetches are in flight.
package query

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/notehub/internal/apperr"
	"github.com/starford/notehub/internal/models"
)

// Fetcher loads one page of notes.
type Fetcher interface {
	ListNotes(ctx context.Context, p models.ListParams) (*models.Page, error)
}

// Coordinator owns the query cache.
//
// Concurrency model: a single internal event loop (goroutine) owns all mutable
// state (entries, current key, page count, subscribers). Public methods post
// operations to the loop and fetch goroutines post their results back to it, so
// whether a response still matches the current key is decided at the moment
// it arrives. No mutexes are required.
type Coordinator struct {
	fetcher    Fetcher
	perPage    int
	staleAfter time.Duration
	logger     *slog.Logger
	rec        Recorder
	now        func() time.Time

	ops     chan func(*loop)
	results chan fetchResult

	cancel  context.CancelFunc
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleAfter makes resolved entries older than d refetch when their key
// becomes current again. Zero keeps entries fresh until invalidated.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		c.staleAfter = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.rec = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

type fetchResult struct {
	key  Key
	id   uint64
	page *models.Page
	err  error
}

// New starts a coordinator on page 1 with an empty search and issues the
// first fetch.
func New(fetcher Fetcher, perPage int, opts ...Option) *Coordinator {
	if perPage <= 0 {
		perPage = 12
	}
	c := &Coordinator{
		fetcher: fetcher,
		perPage: perPage,
		logger:  slog.Default(),
		rec:     nopRecorder{},
		now:     time.Now,
		ops:     make(chan func(*loop)),
		results: make(chan fetchResult, 16),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	l := &loop{
		c:       c,
		ctx:     ctx,
		entries: make(map[Key]*Entry),
		current: Key{Page: 1, PerPage: perPage},
		subs:    make(map[<-chan View]chan View),
	}
	l.activate()

	go l.run()
	return c
}

// PerPage returns the fixed page size.
func (c *Coordinator) PerPage() int { return c.perPage }

// do runs fn on the loop and waits for it. It reports false if fn did not run
// because the coordinator is closed.
//
// ops is unbuffered, so an accepted op is already running on the loop and
// finishes before the loop can stop. Waiting on done alone keeps the result
// exact when Close races the call.
func (c *Coordinator) do(fn func(*loop)) bool {
	if c.closed.Load() {
		return false
	}
	done := make(chan struct{})
	select {
	case c.ops <- func(l *loop) { fn(l); close(done) }:
	case <-c.stopped:
		return false
	}
	<-done
	return true
}

// SetSearch sets the debounced search term. A changed term resets the page to 1.
func (c *Coordinator) SetSearch(search string) {
	c.do(func(l *loop) { l.setSearch(search) })
}

// SetPage moves to page n, clamped to [1, PageCount] once the page count is known.
func (c *Coordinator) SetPage(n int) {
	c.do(func(l *loop) { l.setPage(n) })
}

// Navigate sets search and page in one step and returns the sequence number
// of the resulting view, for use with Await.
func (c *Coordinator) Navigate(page int, search string) uint64 {
	var seq uint64
	c.do(func(l *loop) {
		l.navigate(page, search)
		seq = l.seq
	})
	return seq
}

// Observe re-requests the current key. It never issues a second fetch for a
// key that is already pending or resolved.
func (c *Coordinator) Observe() {
	c.do(func(l *loop) { l.observe() })
}

// Prefetch loads key into the cache without making it current.
func (c *Coordinator) Prefetch(key Key) {
	c.do(func(l *loop) { l.prefetch(key) })
}

// Invalidate discards every entry selected by match. If the current key is
// selected it is refetched immediately while its previous result stays visible.
func (c *Coordinator) Invalidate(match Match) {
	c.do(func(l *loop) { l.invalidate(match, false) })
}

// Reset discards every entry and returns to page 1.
func (c *Coordinator) Reset() {
	c.do(func(l *loop) { l.invalidate(All, true) })
}

// Retry refetches the current key if its last fetch failed.
func (c *Coordinator) Retry() {
	c.do(func(l *loop) { l.retry() })
}

// View returns the current view. After Close it returns the zero View.
func (c *Coordinator) View() View {
	var v View
	c.do(func(l *loop) { v = l.view() })
	return v
}

// Current returns the current key.
func (c *Coordinator) Current() Key {
	var k Key
	c.do(func(l *loop) { k = l.current })
	return k
}

// Entry returns a snapshot of the cache entry for key.
func (c *Coordinator) Entry(key Key) (Entry, bool) {
	var (
		e  Entry
		ok bool
	)
	c.do(func(l *loop) {
		if p, found := l.entries[l.normalize(key)]; found {
			e, ok = *p, true
		}
	})
	return e, ok
}

// Len returns the number of cached keys.
func (c *Coordinator) Len() int {
	var n int
	c.do(func(l *loop) { n = len(l.entries) })
	return n
}

// Subscribe returns a channel that receives the latest view after every
// change, starting with the current one. Slow readers only miss intermediate
// views, never the latest. The channel is closed by Unsubscribe or Close.
func (c *Coordinator) Subscribe() <-chan View {
	ch := make(chan View, 1)
	if !c.do(func(l *loop) {
		l.subs[ch] = ch
		ch <- l.view()
	}) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Coordinator) Unsubscribe(ch <-chan View) {
	c.do(func(l *loop) {
		if w, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(w)
		}
	})
}

// Await blocks until a view satisfying pred is published.
func (c *Coordinator) Await(ctx context.Context, pred func(View) bool) (View, error) {
	ch := c.Subscribe()
	defer c.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return View{}, ctx.Err()
		case v, ok := <-ch:
			if !ok {
				return View{}, apperr.ErrClosed
			}
			if pred(v) {
				return v, nil
			}
		}
	}
}

// Close cancels in-flight fetches, stops the loop and closes all subscribers.
func (c *Coordinator) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
		close(c.stopCh)
	}
	<-c.stopped
}
