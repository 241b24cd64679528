package notestore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notehub/internal/apperr"
	"github.com/starford/notehub/internal/models"
)

// Response shapes for GET /notes.
const (
	ShapeNotes = "notes" // {notes, totalPages}
	ShapeItems = "items" // {items, total, page, perPage, totalPages}
)

const maxPerPage = 50

// Handler holds the store route handlers.
type Handler struct {
	db    *DB
	shape string
}

// NewHandler creates a Handler answering listings in the given shape.
func NewHandler(db *DB, shape string) *Handler {
	if shape != ShapeItems {
		shape = ShapeNotes
	}
	return &Handler{db: db, shape: shape}
}

// ListNotes handles GET /notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("page must be a positive integer"))
			return
		}
		page = n
	}
	perPage := 12
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPerPage {
			writeJSON(w, http.StatusBadRequest, errorBody("perPage must be between 1 and 50"))
			return
		}
		perPage = n
	}
	search := strings.TrimSpace(q.Get("search"))

	res, err := h.db.List(r.Context(), page, perPage, search)
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	if h.shape == ShapeItems {
		writeJSON(w, http.StatusOK, map[string]any{
			"items":      res.Notes,
			"total":      res.Total,
			"page":       page,
			"perPage":    perPage,
			"totalPages": res.TotalPages,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes":      res.Notes,
		"totalPages": res.TotalPages,
	})
}

// CreateNote handles POST /notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req models.NoteFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	note, err := h.db.Create(r.Context(), req)
	if err != nil {
		slog.Error("create note failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// DeleteNote handles DELETE /notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	note, err := h.db.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		} else {
			slog.Error("delete note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// NewRouter creates a chi router with the store routes mounted at its root.
// An empty token disables authentication.
func NewRouter(db *DB, token, shape string) chi.Router {
	h := NewHandler(db, shape)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(token))

	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	return r
}

// AuthMiddleware rejects requests without "Authorization: Bearer <token>".
// An empty token lets every request through.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Message string `json:"message"`
}

func errorBody(msg string) errResponse {
	return errResponse{Message: msg}
}
