// Package sse streams view and note events to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeView        = "view"
	TypeNoteCreated = "note.created"
	TypeNoteDeleted = "note.deleted"
)

// Event is one message for every connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NoteRef is the payload of note events.
type NoteRef struct {
	ID string `json:"id"`
}

// Recorder observes client churn and dropped frames.
type Recorder interface {
	ClientsChanged(n int)
	FrameDropped()
}

type nopRecorder struct{}

func (nopRecorder) ClientsChanged(int) {}
func (nopRecorder) FrameDropped()      {}

// Option configures a Broker.
type Option func(*Broker)

// WithClientBuffer sets how many frames queue per client before further
// frames are dropped for it. Defaults to 64.
func WithClientBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.clientBuffer = n
		}
	}
}

// WithHeartbeat sends a comment line every d on idle streams. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Broker) { b.rec = r }
}

// Broker fans events out to SSE clients.
//
// One goroutine owns the client set and the last view frame; the public
// methods reach it through channels. The last view frame is replayed to every
// new client so it can render without waiting for the next change.
type Broker struct {
	clientBuffer int
	heartbeat    time.Duration
	rec          Recorder

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event

	clients atomic.Int64
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		clientBuffer:  64,
		heartbeat:     25 * time.Second,
		rec:           nopRecorder{},
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// frame renders one SSE frame; id is the broker-wide event sequence.
func frame(id uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", id, event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastView []byte
		nextID   uint64
	)

	setClients := func() {
		b.clients.Store(int64(len(clients)))
		b.rec.ClientsChanged(len(clients))
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			clear(clients)
			setClients()
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			setClients()
			if lastView != nil {
				ch <- lastView
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				setClients()
			}

		case event := <-b.publishCh:
			nextID++
			raw, err := frame(nextID, event)
			if err != nil {
				slog.Error("sse: encode event failed", slog.String("type", event.Type), slog.String("error", err.Error()))
				continue
			}
			if event.Type == TypeView {
				lastView = raw
			}
			for ch := range clients {
				select {
				case ch <- raw:
				default:
					b.rec.FrameDropped()
				}
			}
		}
	}
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. The channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, b.clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients. It trails Subscribe
// and Unsubscribe until the broker goroutine has handled them.
func (b *Broker) ClientCount() int {
	return int(b.clients.Load())
}

// Publish queues event for all clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a TypeNoteCreated or TypeNoteDeleted event for
// id. Other kinds are ignored.
func (b *Broker) PublishNoteEvent(kind, id string) {
	switch kind {
	case TypeNoteCreated, TypeNoteDeleted:
		b.Publish(Event{Type: kind, Data: NoteRef{ID: id}})
	default:
		slog.Warn("sse: unknown note event", slog.String("kind", kind))
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
