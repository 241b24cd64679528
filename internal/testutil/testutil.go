// Package testutil provides shared test helpers for running a note store.
package testutil

import (
	"context"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/notestore"
)

// TestDB creates a temporary store database that is automatically cleaned up.
func TestDB(t *testing.T) *notestore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "notehub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := notestore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// StoreServer starts an HTTP note store backed by a temporary database.
func StoreServer(t *testing.T, token, shape string) (*httptest.Server, *notestore.DB) {
	t.Helper()
	db := TestDB(t)
	srv := httptest.NewServer(notestore.NewRouter(db, token, shape))
	t.Cleanup(srv.Close)
	return srv, db
}

// Seed inserts n notes titled "note-1" … "note-n" in that order.
func Seed(t *testing.T, db *notestore.DB, n int) []models.Note {
	t.Helper()
	out := make([]models.Note, 0, n)
	for i := 1; i <= n; i++ {
		note, err := db.Create(context.Background(), models.NoteFields{
			Title:   "note-" + strconv.Itoa(i),
			Content: "content " + strconv.Itoa(i),
			Tag:     models.TagTodo,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		out = append(out, *note)
	}
	return out
}
