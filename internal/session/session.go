// Package session wires the search debouncer, the query coordinator and the
// mutation coordinator into the API consumed by view bindings.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/notehub/internal/debounce"
	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/mutation"
	"github.com/starford/notehub/internal/query"
)

// Store is the remote note store.
type Store interface {
	query.Fetcher
	mutation.Store
}

// Recorder receives both query and mutation activity.
type Recorder interface {
	query.Recorder
	mutation.Recorder
}

type options struct {
	quiet      time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	rec        Recorder
	onCreated  func(models.Note)
	onDeleted  func(string)
}

// Option configures a Session.
type Option func(*options)

// WithQuietPeriod overrides debounce.DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) Option {
	return func(o *options) { o.quiet = d }
}

// WithStaleAfter sets the age after which a cached page is refetched on return.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) { o.staleAfter = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.rec = r }
}

// OnCreated registers a hook run after a successful create.
func OnCreated(fn func(models.Note)) Option {
	return func(o *options) { o.onCreated = fn }
}

// OnDeleted registers a hook run after a successful delete.
func OnDeleted(fn func(id string)) Option {
	return func(o *options) { o.onDeleted = fn }
}

// Session is constructed at startup and closed on shutdown.
type Session struct {
	query     *query.Coordinator
	mutations *mutation.Coordinator
	search    *debounce.Debouncer
	logger    *slog.Logger
}

// New starts a session on page 1 with no search.
func New(store Store, perPage int, opts ...Option) *Session {
	o := options{
		quiet:  debounce.DefaultQuietPeriod,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	qopts := []query.Option{query.WithLogger(o.logger), query.WithStaleAfter(o.staleAfter)}
	mopts := []mutation.Option{mutation.WithLogger(o.logger)}
	if o.rec != nil {
		qopts = append(qopts, query.WithRecorder(o.rec))
		mopts = append(mopts, mutation.WithRecorder(o.rec))
	}
	if o.onCreated != nil {
		mopts = append(mopts, mutation.OnCreated(o.onCreated))
	}
	if o.onDeleted != nil {
		mopts = append(mopts, mutation.OnDeleted(o.onDeleted))
	}

	q := query.New(store, perPage, qopts...)
	s := &Session{
		query:     q,
		mutations: mutation.New(store, q, mopts...),
		logger:    o.logger,
	}
	s.search = debounce.New(o.quiet, "", func(term string) {
		s.logger.Debug("search settled", slog.String("search", term))
		q.SetSearch(term)
	})
	return s
}

// SetSearchInput records raw search input. The query follows once the input
// has been stable for the quiet period.
func (s *Session) SetSearchInput(raw string) { s.search.Observe(raw) }

// FlushSearch applies pending search input immediately.
func (s *Session) FlushSearch() { s.search.Flush() }

// SetPage moves to page n.
func (s *Session) SetPage(n int) { s.query.SetPage(n) }

// CurrentView returns what should be displayed now.
func (s *Session) CurrentView() query.View { return s.query.View() }

// Retry refetches the current page after a failed fetch.
func (s *Session) Retry() { s.query.Retry() }

// CreateNote submits a new note; see mutation.Coordinator.Create.
func (s *Session) CreateNote(ctx context.Context, fields models.NoteFields) (*models.Note, error) {
	return s.mutations.Create(ctx, fields)
}

// DeleteNote deletes a note; see mutation.Coordinator.Delete.
func (s *Session) DeleteNote(ctx context.Context, id string) (*models.Deleted, error) {
	return s.mutations.Delete(ctx, id)
}

// Subscribe streams view changes; see query.Coordinator.Subscribe.
func (s *Session) Subscribe() <-chan query.View { return s.query.Subscribe() }

// Unsubscribe ends a subscription.
func (s *Session) Unsubscribe(ch <-chan query.View) { s.query.Unsubscribe(ch) }

// Await blocks until a view satisfying pred is published.
func (s *Session) Await(ctx context.Context, pred func(query.View) bool) (query.View, error) {
	return s.query.Await(ctx, pred)
}

// Load commits search without debouncing, moves to page and waits for the
// settled view. The page may come back clamped.
func (s *Session) Load(ctx context.Context, page int, search string) (query.View, error) {
	s.search.Reset(search)
	seq := s.query.Navigate(page, search)
	v, err := s.query.Await(ctx, func(v query.View) bool {
		return v.Seq >= seq && v.Search == search && v.Settled()
	})
	if err != nil {
		return query.View{}, fmt.Errorf("load page %d: %w", page, err)
	}
	return v, nil
}

// Close stops the debouncer before the coordinator so no search is emitted
// into a closed coordinator.
func (s *Session) Close() {
	s.search.Stop()
	s.query.Close()
}
