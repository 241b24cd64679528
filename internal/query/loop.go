package query

import (
	"context"
	"log/slog"

	"github.com/starford/notehub/internal/models"
)

// loop is the state owned by the coordinator goroutine.
type loop struct {
	c   *Coordinator
	ctx context.Context

	entries   map[Key]*Entry
	current   Key
	pageCount int

	// placeholder is the last result of the current key, kept visible while
	// the key is refetched after an invalidation.
	placeholder *models.Page

	nextFetchID uint64
	seq         uint64
	subs        map[<-chan View]chan View
}

func (l *loop) run() {
	defer close(l.c.stopped)

	for {
		select {
		case <-l.c.stopCh:
			for _, ch := range l.subs {
				close(ch)
			}
			return

		case op := <-l.c.ops:
			op(l)

		case res := <-l.c.results:
			l.handleResult(res)
		}
	}
}

func (l *loop) normalize(k Key) Key {
	k.PerPage = l.c.perPage
	k.Page = max(k.Page, 1)
	return k
}

// moveTo makes key current, fetching it if needed, and publishes the view.
// The page count belongs to a search and is unknown again once it changes.
func (l *loop) moveTo(key Key) {
	if key != l.current {
		l.placeholder = nil
	}
	if key.Search != l.current.Search {
		l.pageCount = 0
	}
	l.current = key
	l.activate()
}

func (l *loop) setSearch(search string) {
	if search == l.current.Search {
		return
	}
	l.moveTo(Key{Page: 1, Search: search, PerPage: l.c.perPage})
}

func (l *loop) setPage(n int) {
	n = max(n, 1)
	if l.pageCount > 0 {
		n = min(n, l.pageCount)
	}
	if n == l.current.Page {
		return
	}
	l.moveTo(Key{Page: n, Search: l.current.Search, PerPage: l.c.perPage})
}

func (l *loop) navigate(page int, search string) {
	key := l.normalize(Key{Page: page, Search: search})
	if key == l.current {
		l.observe()
		return
	}
	l.moveTo(key)
}

func (l *loop) observe() {
	if _, ok := l.entries[l.current]; ok {
		return
	}
	l.activate()
}

func (l *loop) prefetch(key Key) {
	key = l.normalize(key)
	if key == l.current {
		l.observe()
		return
	}
	if e, ok := l.entries[key]; ok && e.Status != StatusErrored {
		return
	}
	l.startFetch(key)
}

func (l *loop) retry() {
	e, ok := l.entries[l.current]
	if !ok || e.Status != StatusErrored {
		return
	}
	delete(l.entries, l.current)
	l.activate()
}

// activate brings the current key's entry up to date and publishes the view.
func (l *loop) activate() {
	e, ok := l.entries[l.current]
	switch {
	case !ok || e.Status == StatusErrored:
		l.startFetch(l.current)

	case e.Status == StatusResolved:
		l.c.rec.CacheHit()
		if l.c.staleAfter > 0 && l.c.now().Sub(e.UpdatedAt) > l.c.staleAfter {
			l.placeholder = e.Result
			l.startFetch(l.current)
			break
		}
		if l.applyPageCount(e.Result) {
			return
		}

	case e.Status == StatusPending:
		// Await the fetch already in flight.
	}
	l.publish()
}

// applyPageCount adopts the page count of a result for the current key and
// clamps the page into range. It reports whether the page moved, in which case
// the new key has already been activated.
func (l *loop) applyPageCount(p *models.Page) bool {
	l.pageCount = p.TotalPages
	limit := max(l.pageCount, 1)
	if l.current.Page <= limit {
		return false
	}
	l.c.logger.Debug("query: clamping page",
		slog.Int("from", l.current.Page),
		slog.Int("to", limit),
		slog.Int("page_count", l.pageCount))
	l.moveTo(Key{Page: limit, Search: l.current.Search, PerPage: l.c.perPage})
	return true
}

func (l *loop) startFetch(key Key) {
	l.nextFetchID++
	id := l.nextFetchID
	l.entries[key] = &Entry{Status: StatusPending, UpdatedAt: l.c.now(), fetchID: id}
	l.c.rec.FetchStarted()

	l.c.logger.Debug("query: fetch started",
		slog.Int("page", key.Page),
		slog.String("search", key.Search),
		slog.Uint64("fetch_id", id))

	ctx, fetcher, results, stopped := l.ctx, l.c.fetcher, l.c.results, l.c.stopped
	go func() {
		page, err := fetcher.ListNotes(ctx, key.Params())
		select {
		case results <- fetchResult{key: key, id: id, page: page, err: err}:
		case <-stopped:
		}
	}()
}

func (l *loop) handleResult(res fetchResult) {
	e, ok := l.entries[res.key]
	if !ok || e.fetchID != res.id {
		// The entry was invalidated (and possibly refetched) meanwhile.
		l.c.rec.StaleResponse()
		l.c.logger.Debug("query: discarding superseded response",
			slog.Int("page", res.key.Page),
			slog.String("search", res.key.Search),
			slog.Uint64("fetch_id", res.id))
		return
	}

	l.c.rec.FetchFinished(res.err)
	if res.err != nil {
		l.entries[res.key] = &Entry{Status: StatusErrored, Err: res.err, UpdatedAt: l.c.now(), fetchID: res.id}
		l.c.logger.Warn("query: fetch failed",
			slog.Int("page", res.key.Page),
			slog.String("search", res.key.Search),
			slog.String("error", res.err.Error()))
	} else {
		l.entries[res.key] = &Entry{Status: StatusResolved, Result: res.page, UpdatedAt: l.c.now(), fetchID: res.id}
	}

	if res.key != l.current {
		// Cached for when the user comes back, but not displayed.
		return
	}

	l.placeholder = nil
	if res.err == nil && l.applyPageCount(res.page) {
		return
	}
	l.publish()
}

func (l *loop) invalidate(match Match, resetPage bool) {
	var n int
	var previous *models.Page
	for k, e := range l.entries {
		if !match(k) {
			continue
		}
		if k == l.current && e.Status == StatusResolved {
			previous = e.Result
		}
		delete(l.entries, k)
		n++
	}
	l.c.rec.Invalidated(n)
	l.c.logger.Debug("query: invalidated", slog.Int("entries", n), slog.Bool("reset_page", resetPage))

	target := l.current
	if resetPage {
		target.Page = 1
	}

	if !match(target) && target == l.current {
		return
	}
	if target == l.current {
		if previous != nil {
			l.placeholder = previous
		}
		l.activate()
		return
	}
	l.moveTo(target)
}

func (l *loop) view() View {
	v := View{
		Items:     []models.Note{},
		Page:      l.current.Page,
		PageCount: l.pageCount,
		Search:    l.current.Search,
		Seq:       l.seq,
	}
	e, ok := l.entries[l.current]
	switch {
	case !ok:
		v.Loading = true
	case e.Status == StatusResolved:
		v.Items = append(v.Items, e.Result.Notes...)
	case e.Status == StatusPending:
		v.Loading = true
		if l.placeholder != nil {
			v.Items = append(v.Items, l.placeholder.Notes...)
			v.Stale = true
		}
	case e.Status == StatusErrored:
		v.Error = true
		v.Message = e.Err.Error()
	}
	return v
}

// publish bumps the sequence and hands the latest view to every subscriber,
// replacing any view the subscriber has not read yet.
func (l *loop) publish() {
	l.seq++
	if len(l.subs) == 0 {
		return
	}
	v := l.view()
	for _, ch := range l.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
