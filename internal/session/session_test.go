package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/notehub/internal/apperr"
	"github.com/starford/notehub/internal/credential"
	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/mutation"
	"github.com/starford/notehub/internal/notehub"
	"github.com/starford/notehub/internal/notestore"
	"github.com/starford/notehub/internal/query"
	"github.com/starford/notehub/internal/testutil"
)

// recordingStore remembers every search term sent to the store.
type recordingStore struct {
	*notehub.Client

	mu       sync.Mutex
	searches []string
}

func (s *recordingStore) ListNotes(ctx context.Context, p models.ListParams) (*models.Page, error) {
	s.mu.Lock()
	s.searches = append(s.searches, p.Search)
	s.mu.Unlock()
	return s.Client.ListNotes(ctx, p)
}

func (s *recordingStore) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.searches)
}

type env struct {
	db      *notestore.DB
	store   *recordingStore
	session *Session
}

func newEnv(t *testing.T, seed int, opts ...Option) *env {
	t.Helper()
	srv, db := testutil.StoreServer(t, "secret", notestore.ShapeNotes)
	testutil.Seed(t, db, seed)

	store := &recordingStore{Client: notehub.New(srv.URL, notehub.WithCredentials(credential.Static("secret")))}
	opts = append([]Option{WithQuietPeriod(30 * time.Millisecond)}, opts...)
	s := New(store, 12, opts...)
	t.Cleanup(s.Close)
	return &env{db: db, store: store, session: s}
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func ids(v query.View) []string {
	out := make([]string, len(v.Items))
	for i, n := range v.Items {
		out[i] = n.ID
	}
	return out
}

func TestSearchBurstUsesFinalValue(t *testing.T) {
	e := newEnv(t, 20)
	if _, err := e.session.Load(ctx(t), 1, ""); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, raw := range []string{"n", "no", "not", "note", "note-", "note-1"} {
		e.session.SetSearchInput(raw)
		time.Sleep(2 * time.Millisecond)
	}

	v, err := e.session.Await(ctx(t), func(v query.View) bool { return v.Search == "note-1" && v.Settled() })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	// note-1 and note-10 … note-19.
	if len(v.Items) != 11 || v.Page != 1 {
		t.Fatalf("view = page %d with %d items, want page 1 with 11", v.Page, len(v.Items))
	}

	for _, s := range e.store.seen() {
		if s != "" && s != "note-1" {
			t.Fatalf("store saw intermediate search %q (all: %v)", s, e.store.seen())
		}
	}
}

func TestSearchResetsPageEndToEnd(t *testing.T) {
	e := newEnv(t, 70)
	v, err := e.session.Load(ctx(t), 5, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Page != 5 || v.PageCount != 6 {
		t.Fatalf("view = page %d of %d, want 5 of 6", v.Page, v.PageCount)
	}

	e.session.SetSearchInput("content 7")
	e.session.FlushSearch()

	v, err = e.session.Await(ctx(t), func(v query.View) bool { return v.Search == "content 7" && v.Settled() })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v.Page != 1 {
		t.Fatalf("page = %d, want 1", v.Page)
	}
}

func TestCreateResetsAndRefreshes(t *testing.T) {
	e := newEnv(t, 0)
	v, err := e.session.Load(ctx(t), 1, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(v.Items) != 0 {
		t.Fatalf("items = %d, want empty list", len(v.Items))
	}

	note, err := e.session.CreateNote(ctx(t), models.NoteFields{Title: "A", Content: "B", Tag: models.TagTodo})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	v, err = e.session.Await(ctx(t), func(v query.View) bool { return v.Settled() && len(v.Items) > 0 })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(v.Items) != 1 || v.Items[0].Title != "A" || v.Items[0].ID != note.ID {
		t.Fatalf("items = %+v, want exactly note A", v.Items)
	}
	if v.Page != 1 || v.PageCount != 1 {
		t.Fatalf("view = page %d of %d, want 1 of 1", v.Page, v.PageCount)
	}
}

func TestCreateFromLaterPageReturnsToFirst(t *testing.T) {
	var created []string
	var mu sync.Mutex
	e := newEnv(t, 13, OnCreated(func(n models.Note) {
		mu.Lock()
		created = append(created, n.ID)
		mu.Unlock()
	}))
	if _, err := e.session.Load(ctx(t), 2, ""); err != nil {
		t.Fatalf("Load: %v", err)
	}

	note, err := e.session.CreateNote(ctx(t), models.NoteFields{Title: "fresh", Tag: models.TagWork})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	v, err := e.session.Await(ctx(t), func(v query.View) bool { return v.Page == 1 && v.Settled() })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(v.Items) != 12 || v.Items[0].ID != note.ID || v.PageCount != 2 {
		t.Fatalf("view = %d items of %d pages, first %q", len(v.Items), v.PageCount, v.Items[0].ID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(created) != 1 || created[0] != note.ID {
		t.Fatalf("created hook = %v", created)
	}
}

func TestFailedDeleteKeepsNoteVisible(t *testing.T) {
	e := newEnv(t, 3)
	v, err := e.session.Load(ctx(t), 1, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := v.Items[0].ID

	// Removed behind the session's back: the store now answers not-found.
	if _, err := e.db.Delete(context.Background(), id); err != nil {
		t.Fatalf("db delete: %v", err)
	}

	_, err = e.session.DeleteNote(ctx(t), id)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("DeleteNote error = %v, want not found", err)
	}
	var merr *mutation.Error
	if !errors.As(err, &merr) || merr.Kind != mutation.KindNotFound {
		t.Fatalf("error = %#v, want mutation not-found", err)
	}

	v = e.session.CurrentView()
	if v.Loading || !slices.Contains(ids(v), id) {
		t.Fatalf("view = %+v, want cached page still listing %s", v, id)
	}
}

// gatedStore holds the next list request until released.
type gatedStore struct {
	next    http.Handler
	armed   atomic.Bool
	lists   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		g.lists.Add(1)
		if g.armed.CompareAndSwap(true, false) {
			close(g.entered)
			<-g.release
		}
	}
	g.next.ServeHTTP(w, r)
}

func TestDeleteDuringInFlightListShowsFreshPage(t *testing.T) {
	db := testutil.TestDB(t)
	testutil.Seed(t, db, 2)
	gate := &gatedStore{
		next:    notestore.NewRouter(db, "", notestore.ShapeNotes),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv := httptest.NewServer(gate)
	t.Cleanup(srv.Close)

	client := notehub.New(srv.URL)
	s := New(client, 12, WithQuietPeriod(30*time.Millisecond))
	t.Cleanup(s.Close)

	v, err := s.Load(ctx(t), 1, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(v.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(v.Items))
	}
	id := v.Items[0].ID

	// Another reader of the same page is waiting on the store.
	gate.armed.Store(true)
	earlier := make(chan *models.Page, 1)
	go func() {
		page, _ := client.ListNotes(context.Background(), models.ListParams{Page: 1, PerPage: 12})
		earlier <- page
	}()
	<-gate.entered

	if _, err := s.DeleteNote(ctx(t), id); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err = s.Await(waitCtx, func(v query.View) bool {
		return v.Settled() && !slices.Contains(ids(v), id)
	})
	close(gate.release)
	if err != nil {
		t.Fatalf("Await: %v, view = %+v", err, s.CurrentView())
	}
	if len(v.Items) != 1 {
		t.Fatalf("items after delete = %v, want 1", ids(v))
	}

	if page := <-earlier; page == nil || len(page.Notes) != 2 {
		t.Fatalf("earlier list = %+v, want the page read before the delete", page)
	}
	if n := gate.lists.Load(); n != 3 {
		t.Fatalf("list requests = %d, want 3", n)
	}
}

func TestDeleteLastItemClampsPage(t *testing.T) {
	e := newEnv(t, 25)
	v, err := e.session.Load(ctx(t), 3, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.PageCount != 3 || len(v.Items) != 1 {
		t.Fatalf("page 3 = %d items of %d pages, want 1 of 3", len(v.Items), v.PageCount)
	}

	if _, err := e.session.DeleteNote(ctx(t), v.Items[0].ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}

	v, err = e.session.Await(ctx(t), func(v query.View) bool { return v.Page == 2 && v.Settled() })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v.PageCount != 2 || len(v.Items) != 12 {
		t.Fatalf("view = %d items of %d pages, want 12 of 2", len(v.Items), v.PageCount)
	}
}

func TestLoadClampsOutOfRangePage(t *testing.T) {
	e := newEnv(t, 5)
	v, err := e.session.Load(ctx(t), 4, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Page != 1 || len(v.Items) != 5 {
		t.Fatalf("view = page %d with %d items, want page 1 with 5", v.Page, len(v.Items))
	}
}

func TestDispatch(t *testing.T) {
	e := newEnv(t, 30)
	if _, err := e.session.Load(ctx(t), 1, ""); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := e.session.Dispatch(ctx(t), PageChanged{Page: 3}); err != nil {
		t.Fatalf("PageChanged: %v", err)
	}
	if v, _ := e.session.Await(ctx(t), func(v query.View) bool { return v.Page == 3 && v.Settled() }); len(v.Items) != 6 {
		t.Fatalf("page 3 items = %d, want 6", len(v.Items))
	}

	if err := e.session.Dispatch(ctx(t), SearchChanged{Raw: "note-30"}); err != nil {
		t.Fatalf("SearchChanged: %v", err)
	}
	v, err := e.session.Await(ctx(t), func(v query.View) bool { return v.Search == "note-30" && v.Settled() })
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(v.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(v.Items))
	}

	err = e.session.Dispatch(ctx(t), CreateRequested{Fields: models.NoteFields{Title: "", Tag: "Nope"}})
	var merr *mutation.Error
	if !errors.As(err, &merr) || merr.Kind != mutation.KindValidation {
		t.Fatalf("invalid create error = %v, want validation", err)
	}

	if err := e.session.Dispatch(ctx(t), DeleteRequested{ID: v.Items[0].ID}); err != nil {
		t.Fatalf("DeleteRequested: %v", err)
	}
	v, err = e.session.Await(ctx(t), func(v query.View) bool { return v.Settled() && len(v.Items) == 0 })
	if err != nil {
		t.Fatalf("Await after delete: %v", err)
	}
}

func TestCloseDropsPendingSearch(t *testing.T) {
	e := newEnv(t, 1)
	e.session.SetSearchInput("late")
	e.session.Close()
	time.Sleep(60 * time.Millisecond)

	if v := e.session.CurrentView(); v.Search != "" || v.Page != 0 {
		t.Fatalf("view after Close = %+v, want zero", v)
	}
	for _, s := range e.store.seen() {
		if s == "late" {
			t.Fatal("search emitted after Close")
		}
	}
}
