package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/query"
)

// SearchRequest is the request body for PUT /search.
type SearchRequest struct {
	Search string `json:"search" example:"milk"`
	// Immediate skips the quiet period, e.g. when the user presses Enter.
	Immediate bool `json:"immediate,omitempty"`
}

// PageRequest is the request body for PUT /page.
type PageRequest struct {
	Page int `json:"page" example:"2" validate:"required"`
}

// Validate validates the page request.
func (r *PageRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Page, validation.Required, validation.Min(1)),
	)
}

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest = models.NoteFields

// ViewResponse is the current list view (aliased from the query layer).
type ViewResponse = query.View

// DeleteNoteResponse acknowledges a delete.
type DeleteNoteResponse = models.Deleted
