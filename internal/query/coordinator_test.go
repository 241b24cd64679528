package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/notehub/internal/models"
)

type reply struct {
	page *models.Page
	err  error
}

type fetchCall struct {
	params models.ListParams
	reply  chan reply
}

// fakeFetcher either answers through handle or parks each call on pending
// until the test replies.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []models.ListParams
	handle  func(models.ListParams) (*models.Page, error)
	pending chan *fetchCall
}

func newManualFetcher() *fakeFetcher {
	return &fakeFetcher{pending: make(chan *fetchCall, 64)}
}

func (f *fakeFetcher) ListNotes(ctx context.Context, p models.ListParams) (*models.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	handle := f.handle
	f.mu.Unlock()

	if handle != nil {
		return handle(p)
	}
	c := &fetchCall{params: p, reply: make(chan reply, 1)}
	f.pending <- c
	select {
	case r := <-c.reply:
		return r.page, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case c := <-f.pending:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch")
		return nil
	}
}

func (f *fakeFetcher) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.pending:
		t.Fatalf("unexpected fetch %+v", c.params)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeFetcher) count(p models.ListParams) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == p {
			n++
		}
	}
	return n
}

func pageOf(titles ...string) *models.Page {
	p := &models.Page{TotalPages: 1}
	for i, title := range titles {
		p.Notes = append(p.Notes, models.Note{ID: fmt.Sprintf("id-%s-%d", title, i), Title: title, Tag: models.TagTodo})
	}
	return p
}

// dataset serves pages out of an in-memory note list, newest first.
type dataset struct {
	mu    sync.Mutex
	notes []models.Note
}

func newDataset(n int) *dataset {
	d := &dataset{}
	for i := n; i >= 1; i-- {
		d.notes = append(d.notes, models.Note{ID: fmt.Sprintf("n%d", i), Title: fmt.Sprintf("note-%d", i), Tag: models.TagWork})
	}
	return d
}

func (d *dataset) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, n := range d.notes {
		if n.ID == id {
			d.notes = append(d.notes[:i], d.notes[i+1:]...)
			return
		}
	}
}

func (d *dataset) list(p models.ListParams) (*models.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []models.Note
	for _, n := range d.notes {
		if strings.Contains(n.Title, p.Search) {
			matched = append(matched, n)
		}
	}
	total := len(matched)
	pages := (total + p.PerPage - 1) / p.PerPage
	start := min((p.Page-1)*p.PerPage, total)
	end := min(start+p.PerPage, total)
	return &models.Page{Notes: append([]models.Note(nil), matched[start:end]...), TotalPages: pages}, nil
}

type countingRecorder struct {
	hits, started, finished, stale, invalidated atomic.Int64
}

func (r *countingRecorder) CacheHit()           { r.hits.Add(1) }
func (r *countingRecorder) FetchStarted()       { r.started.Add(1) }
func (r *countingRecorder) FetchFinished(error) { r.finished.Add(1) }
func (r *countingRecorder) StaleResponse()      { r.stale.Add(1) }
func (r *countingRecorder) Invalidated(n int)   { r.invalidated.Add(int64(n)) }

func await(t *testing.T, c *Coordinator, pred func(View) bool) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := c.Await(ctx, pred)
	if err != nil {
		t.Fatalf("Await: %v (last view %+v)", err, c.View())
	}
	return v
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func titles(v View) []string {
	out := make([]string, len(v.Items))
	for i, n := range v.Items {
		out[i] = n.Title
	}
	return out
}

func TestInitialFetchResolves(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()

	call := f.next(t)
	want := models.ListParams{Page: 1, PerPage: 12}
	if call.params != want {
		t.Fatalf("params = %+v, want %+v", call.params, want)
	}
	if v := c.View(); !v.Loading || v.Page != 1 {
		t.Fatalf("view before reply = %+v, want loading page 1", v)
	}

	call.reply <- reply{page: pageOf("a", "b")}
	v := await(t, c, View.Settled)
	if v.Error || len(v.Items) != 2 || v.PageCount != 1 {
		t.Fatalf("view = %+v", v)
	}
}

func TestNoDuplicateFetchWhilePending(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()

	call := f.next(t)
	for i := 0; i < 5; i++ {
		c.Observe()
		c.Navigate(1, "")
		c.SetPage(1)
		c.Prefetch(Key{Page: 1})
	}
	f.expectIdle(t)

	call.reply <- reply{page: pageOf("a")}
	await(t, c, View.Settled)

	// Resolved keys are served from the cache.
	c.Observe()
	c.Navigate(1, "")
	f.expectIdle(t)

	if n := f.count(models.ListParams{Page: 1, PerPage: 12}); n != 1 {
		t.Fatalf("fetches for page 1 = %d, want 1", n)
	}
}

func TestLateResponseForOldKeyIsNotDisplayed(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()
	f.next(t).reply <- reply{page: pageOf("all")}
	await(t, c, View.Settled)

	c.SetSearch("a")
	callA := f.next(t)
	c.SetSearch("b")
	callB := f.next(t)

	callB.reply <- reply{page: pageOf("bee")}
	await(t, c, func(v View) bool { return v.Search == "b" && v.Settled() })

	callA.reply <- reply{page: pageOf("ant")}
	eventually(t, func() bool {
		e, ok := c.Entry(Key{Page: 1, Search: "a"})
		return ok && e.Status == StatusResolved
	})

	v := c.View()
	if got := titles(v); v.Search != "b" || len(got) != 1 || got[0] != "bee" {
		t.Fatalf("view = %+v, want b's result", v)
	}

	// Coming back to "a" uses the cached result.
	c.SetSearch("a")
	f.expectIdle(t)
	if got := titles(c.View()); len(got) != 1 || got[0] != "ant" {
		t.Fatalf("items = %v, want [ant]", got)
	}
}

func TestLateResponseWhileNewKeyErrored(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()
	f.next(t).reply <- reply{page: pageOf("all")}
	await(t, c, View.Settled)

	c.Navigate(2, "")
	callOld := f.next(t)
	c.Navigate(1, "x")
	callNew := f.next(t)

	callNew.reply <- reply{err: errors.New("boom")}
	await(t, c, func(v View) bool { return v.Error })

	callOld.reply <- reply{page: pageOf("late")}
	eventually(t, func() bool {
		e, ok := c.Entry(Key{Page: 2})
		return ok && e.Status == StatusResolved
	})
	if v := c.View(); !v.Error || v.Message != "boom" || len(v.Items) != 0 {
		t.Fatalf("view = %+v, want error for search x", v)
	}
}

func TestSupersededResponseAfterInvalidateIsDiscarded(t *testing.T) {
	f := newManualFetcher()
	rec := &countingRecorder{}
	c := New(f, 12, WithRecorder(rec))
	defer c.Close()

	first := f.next(t)
	c.Invalidate(All)
	second := f.next(t)

	second.reply <- reply{page: pageOf("fresh")}
	await(t, c, View.Settled)

	first.reply <- reply{page: pageOf("old")}
	eventually(t, func() bool { return rec.stale.Load() == 1 })

	if got := titles(c.View()); len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("items = %v, want [fresh]", got)
	}
}

func TestInvalidateKeepsPreviousResultWhileRevalidating(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()
	f.next(t).reply <- reply{page: pageOf("a", "b")}
	await(t, c, View.Settled)

	c.Invalidate(All)
	call := f.next(t)

	v := c.View()
	if !v.Loading || !v.Stale || len(v.Items) != 2 {
		t.Fatalf("view while revalidating = %+v", v)
	}

	call.reply <- reply{page: pageOf("a")}
	v = await(t, c, View.Settled)
	if v.Stale || len(v.Items) != 1 {
		t.Fatalf("view after revalidation = %+v", v)
	}
}

func TestInvalidateIgnoresUnmatchedCurrentKey(t *testing.T) {
	f := newManualFetcher()
	rec := &countingRecorder{}
	c := New(f, 12, WithRecorder(rec))
	defer c.Close()
	f.next(t).reply <- reply{page: pageOf("a")}
	await(t, c, View.Settled)

	c.Prefetch(Key{Page: 1, Search: "other"})
	f.next(t).reply <- reply{page: pageOf("o")}
	eventually(t, func() bool {
		e, ok := c.Entry(Key{Page: 1, Search: "other"})
		return ok && e.Status == StatusResolved
	})

	c.Invalidate(SearchIs("other"))
	f.expectIdle(t)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if rec.invalidated.Load() != 1 {
		t.Fatalf("invalidated = %d, want 1", rec.invalidated.Load())
	}
}

func TestSearchResetsPage(t *testing.T) {
	ds := newDataset(60)
	f := &fakeFetcher{handle: ds.list}
	c := New(f, 12)
	defer c.Close()

	c.Navigate(5, "")
	v := await(t, c, func(v View) bool { return v.Page == 5 && v.Settled() })
	if v.PageCount != 5 || len(v.Items) != 12 {
		t.Fatalf("page 5 view = %+v", v)
	}

	c.SetSearch("note-1")
	if k := c.Current(); k.Page != 1 || k.Search != "note-1" {
		t.Fatalf("Current() = %+v, want page 1 of note-1", k)
	}
	v = await(t, c, func(v View) bool { return v.Search == "note-1" && v.Settled() })
	if v.Page != 1 {
		t.Fatalf("page = %d, want 1", v.Page)
	}

	if n := f.count(models.ListParams{Page: 5, PerPage: 12, Search: "note-1"}); n != 0 {
		t.Fatalf("fetched page 5 of the new search %d times", n)
	}
	if n := f.count(models.ListParams{Page: 1, PerPage: 12, Search: "note-1"}); n != 1 {
		t.Fatalf("fetched page 1 of the new search %d times, want 1", n)
	}
}

func TestSetPageClampsToKnownPageCount(t *testing.T) {
	ds := newDataset(30)
	f := &fakeFetcher{handle: ds.list}
	c := New(f, 12)
	defer c.Close()
	await(t, c, func(v View) bool { return v.Settled() && v.PageCount == 3 })

	c.SetPage(9)
	if k := c.Current(); k.Page != 3 {
		t.Fatalf("page = %d, want 3", k.Page)
	}
	c.SetPage(-4)
	if k := c.Current(); k.Page != 1 {
		t.Fatalf("page = %d, want 1", k.Page)
	}
}

func TestSearchChangeForgetsPageCount(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()

	first := f.next(t)
	first.reply <- reply{page: &models.Page{TotalPages: 2}}
	await(t, c, func(v View) bool { return v.Settled() && v.PageCount == 2 })

	c.SetSearch("meeting")
	if v := c.View(); v.PageCount != 0 || !v.Loading {
		t.Fatalf("view while new search loads = %+v, want loading with no page count", v)
	}

	c.SetPage(5)
	if k := c.Current(); k.Page != 5 || k.Search != "meeting" {
		t.Fatalf("Current() = %+v, want page 5 of meeting", k)
	}

	// Page 1 of the new search is still in flight alongside page 5.
	for i := 0; i < 2; i++ {
		call := f.next(t)
		if call.params.Search != "meeting" || (call.params.Page != 1 && call.params.Page != 5) {
			t.Fatalf("fetch = %+v, want page 1 or 5 of meeting", call.params)
		}
		call.reply <- reply{page: &models.Page{TotalPages: 9}}
	}
	v := await(t, c, func(v View) bool { return v.Page == 5 && v.Settled() })
	if v.PageCount != 9 {
		t.Fatalf("page count = %d, want 9", v.PageCount)
	}
}

func TestDepletedLastPageClampsDown(t *testing.T) {
	ds := newDataset(25)
	f := &fakeFetcher{handle: ds.list}
	c := New(f, 12)
	defer c.Close()

	c.Navigate(3, "")
	v := await(t, c, func(v View) bool { return v.Page == 3 && v.Settled() })
	if v.PageCount != 3 || len(v.Items) != 1 {
		t.Fatalf("page 3 view = %+v", v)
	}

	ds.remove(v.Items[0].ID)
	c.Invalidate(All)

	v = await(t, c, func(v View) bool { return v.Page == 2 && v.Settled() })
	if v.PageCount != 2 || len(v.Items) != 12 || v.Stale {
		t.Fatalf("view after depletion = %+v", v)
	}
	want, _ := ds.list(models.ListParams{Page: 2, PerPage: 12})
	if v.Items[0].ID != want.Notes[0].ID {
		t.Fatalf("first item = %s, want %s", v.Items[0].ID, want.Notes[0].ID)
	}
}

func TestEmptiedListClampsToFirstPage(t *testing.T) {
	ds := newDataset(13)
	f := &fakeFetcher{handle: ds.list}
	c := New(f, 12)
	defer c.Close()

	c.Navigate(2, "")
	await(t, c, func(v View) bool { return v.Page == 2 && v.Settled() })

	ds.mu.Lock()
	ds.notes = nil
	ds.mu.Unlock()
	c.Invalidate(All)

	v := await(t, c, func(v View) bool { return v.Page == 1 && v.Settled() })
	if v.PageCount != 0 || len(v.Items) != 0 || v.Error {
		t.Fatalf("view = %+v, want empty page 1", v)
	}
}

func TestFetchErrorSurfacesAndRetry(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)
	defer c.Close()

	f.next(t).reply <- reply{err: errors.New("store unavailable")}
	v := await(t, c, View.Settled)
	if !v.Error || v.Message != "store unavailable" || len(v.Items) != 0 {
		t.Fatalf("view = %+v", v)
	}

	// Observing an errored key does not refetch on its own.
	c.Observe()
	f.expectIdle(t)

	c.Retry()
	f.next(t).reply <- reply{page: pageOf("ok")}
	v = await(t, c, func(v View) bool { return v.Settled() && !v.Error })
	if len(v.Items) != 1 {
		t.Fatalf("view after retry = %+v", v)
	}
}

func TestStaleEntryRefetchedOnReturn(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	ds := newDataset(30)
	f := &fakeFetcher{handle: ds.list}
	c := New(f, 12, WithStaleAfter(time.Minute), WithClock(now))
	defer c.Close()
	await(t, c, View.Settled)

	c.SetPage(2)
	await(t, c, func(v View) bool { return v.Page == 2 && v.Settled() })

	c.SetPage(1)
	await(t, c, func(v View) bool { return v.Page == 1 && v.Settled() })
	if n := f.count(models.ListParams{Page: 1, PerPage: 12}); n != 1 {
		t.Fatalf("fresh entry refetched: %d fetches", n)
	}

	clock.Add(int64(2 * time.Minute))
	c.SetPage(2)
	await(t, c, func(v View) bool { return v.Page == 2 && v.Settled() })
	if n := f.count(models.ListParams{Page: 2, PerPage: 12}); n != 2 {
		t.Fatalf("stale entry fetches = %d, want 2", n)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	f := newManualFetcher()
	c := New(f, 12)

	ch := c.Subscribe()
	if v := <-ch; !v.Loading {
		t.Fatalf("first view = %+v, want loading", v)
	}
	c.Close()

	for range ch {
	}
	if v := c.View(); v.Page != 0 {
		t.Fatalf("View() after Close = %+v, want zero", v)
	}

	late := c.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("Subscribe after Close returned an open channel")
	}
}

func TestSubscribeRacingCloseNeverDoubleCloses(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := &fakeFetcher{handle: func(models.ListParams) (*models.Page, error) { return pageOf("a"), nil }}
		c := New(f, 12)

		var wg sync.WaitGroup
		subs := make(chan (<-chan View), 8)
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				subs <- c.Subscribe()
			}()
		}
		c.Close()
		wg.Wait()
		close(subs)

		for ch := range subs {
			for range ch {
			}
		}
	}
}
