package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/mutation"
	"github.com/starford/notehub/internal/query"
)

// Session is the view binding surface the handlers drive.
type Session interface {
	CurrentView() query.View
	SetSearchInput(raw string)
	FlushSearch()
	SetPage(n int)
	Retry()
	CreateNote(ctx context.Context, fields models.NoteFields) (*models.Note, error)
	DeleteNote(ctx context.Context, id string) (*models.Deleted, error)
	Subscribe() <-chan query.View
	Unsubscribe(ch <-chan query.View)
}

// Handler holds API route handlers.
type Handler struct {
	sess Session
}

// NewHandler creates a new Handler.
func NewHandler(sess Session) *Handler {
	return &Handler{sess: sess}
}

// GetView handles GET /view.
//
//	@Summary		Current list view
//	@Tags			view
//	@Produce		json
//	@Success		200	{object}	ViewResponse
//	@Security		BearerAuth
//	@Router			/view [get]
func (h *Handler) GetView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.CurrentView())
}

// Retry handles POST /view/retry.
//
//	@Summary		Refetch the current page after a failed fetch
//	@Tags			view
//	@Produce		json
//	@Success		202	{object}	ViewResponse
//	@Security		BearerAuth
//	@Router			/view/retry [post]
func (h *Handler) Retry(w http.ResponseWriter, _ *http.Request) {
	h.sess.Retry()
	writeJSON(w, http.StatusAccepted, h.sess.CurrentView())
}

// SetSearch handles PUT /search.
//
//	@Summary		Update the search input
//	@Description	The search applies once the input has been stable for the quiet period, unless immediate is set.
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SearchRequest	true	"Raw search input"
//	@Success		202		{object}	ViewResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [put]
func (h *Handler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(w, r, maxControlBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.sess.SetSearchInput(req.Search)
	if req.Immediate {
		h.sess.FlushSearch()
	}
	writeJSON(w, http.StatusAccepted, h.sess.CurrentView())
}

// SetPage handles PUT /page.
//
//	@Summary		Move to a page
//	@Description	The page is clamped to the known page count.
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PageRequest	true	"Page number"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/page [put]
func (h *Handler) SetPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := decodeJSON(w, r, maxControlBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.sess.SetPage(req.Page)
	writeJSON(w, http.StatusOK, h.sess.CurrentView())
}

// CreateNote handles POST /notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := decodeJSON(w, r, maxNoteBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	note, err := h.sess.CreateNote(r.Context(), req)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// DeleteNote handles DELETE /notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	DeleteNoteResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.sess.DeleteNote(r.Context(), id)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeMutationError(w http.ResponseWriter, err error) {
	var merr *mutation.Error
	if !errors.As(err, &merr) {
		slog.Error("mutation failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	status := http.StatusBadGateway
	switch merr.Kind {
	case mutation.KindValidation:
		status = http.StatusBadRequest
	case mutation.KindNotFound:
		status = http.StatusNotFound
	case mutation.KindBusy:
		status = http.StatusConflict
	}
	writeJSON(w, status, errResponse{Error: merr.Err.Error(), Kind: merr.Kind.String()})
}
