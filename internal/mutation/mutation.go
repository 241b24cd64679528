// Package mutation submits creates and deletes and keeps the query cache in
// step with their outcome.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/notehub/internal/apperr"
	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/notehub"
	"github.com/starford/notehub/internal/query"
)

// Store performs writes against the note store.
type Store interface {
	CreateNote(ctx context.Context, fields models.NoteFields) (*models.Note, error)
	DeleteNote(ctx context.Context, id string) (*models.Deleted, error)
}

// Cache is the part of the query coordinator a mutation needs.
type Cache interface {
	Invalidate(match query.Match)
	Reset()
}

// Recorder observes mutation outcomes.
type Recorder interface {
	Mutation(op string, kind Kind)
}

type nopRecorder struct{}

func (nopRecorder) Mutation(string, Kind) {}

// Ops.
const (
	OpCreate = "create"
	OpDelete = "delete"
)

// Coordinator allows one outstanding create and one outstanding delete per
// note id at a time.
type Coordinator struct {
	store  Store
	cache  Cache
	logger *slog.Logger
	rec    Recorder

	onCreated func(models.Note)
	onDeleted func(string)

	mu       sync.Mutex
	creating bool
	deleting map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.rec = r }
}

// OnCreated registers a hook run after a successful create, once the cache
// has been reset. A form binding closes its creation UI here.
func OnCreated(fn func(models.Note)) Option {
	return func(c *Coordinator) { c.onCreated = fn }
}

// OnDeleted registers a hook run after a successful delete.
func OnDeleted(fn func(id string)) Option {
	return func(c *Coordinator) { c.onDeleted = fn }
}

// New creates a Coordinator.
func New(store Store, cache Cache, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		cache:    cache,
		logger:   slog.Default(),
		rec:      nopRecorder{},
		deleting: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create submits a new note. On success every cached page is discarded and
// the page is reset to 1. On failure the cache is left alone.
func (c *Coordinator) Create(ctx context.Context, fields models.NoteFields) (*models.Note, error) {
	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return nil, c.fail(OpCreate, "", apperr.ErrBusy)
	}
	c.creating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.creating = false
		c.mu.Unlock()
	}()

	note, err := c.store.CreateNote(ctx, fields)
	if err != nil {
		return nil, c.fail(OpCreate, "", err)
	}

	c.cache.Reset()
	c.rec.Mutation(OpCreate, KindNone)
	c.logger.Info("note created", slog.String("id", note.ID), slog.String("tag", string(note.Tag)))
	if c.onCreated != nil {
		c.onCreated(*note)
	}
	return note, nil
}

// Delete removes a note. On success every cached page is discarded and the
// current page refetched. On failure nothing is removed from view.
func (c *Coordinator) Delete(ctx context.Context, id string) (*models.Deleted, error) {
	if id == "" {
		return nil, c.fail(OpDelete, id, fmt.Errorf("id is required: %w", apperr.ErrValidation))
	}

	c.mu.Lock()
	if _, busy := c.deleting[id]; busy {
		c.mu.Unlock()
		return nil, c.fail(OpDelete, id, apperr.ErrBusy)
	}
	c.deleting[id] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.deleting, id)
		c.mu.Unlock()
	}()

	res, err := c.store.DeleteNote(ctx, id)
	if err != nil {
		return nil, c.fail(OpDelete, id, err)
	}

	c.cache.Invalidate(query.All)
	c.rec.Mutation(OpDelete, KindNone)
	c.logger.Info("note deleted", slog.String("id", id))
	if c.onDeleted != nil {
		c.onDeleted(id)
	}
	return res, nil
}

// InFlight reports whether a create or a delete of id is outstanding.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		return c.creating
	}
	_, ok := c.deleting[id]
	return ok
}

func (c *Coordinator) fail(op, id string, err error) error {
	merr := &Error{Op: op, ID: id, Kind: KindOf(err), Err: err}
	c.rec.Mutation(op, merr.Kind)
	if merr.Kind != KindBusy {
		c.logger.Warn("mutation failed",
			slog.String("op", op),
			slog.String("id", id),
			slog.String("kind", merr.Kind.String()),
			slog.String("error", err.Error()))
	}
	return merr
}

// KindOf classifies an error returned by the store.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, apperr.ErrBusy):
		return KindBusy
	case errors.Is(err, apperr.ErrValidation):
		return KindValidation
	case errors.Is(err, apperr.ErrNotFound):
		return KindNotFound
	}
	switch notehub.ClassOf(err) {
	case notehub.ClassNetwork:
		return KindNetwork
	case notehub.ClassClient:
		return KindClient
	case notehub.ClassServer:
		return KindServer
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindServer
}
