// Package models defines the domain types for notehub.
package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Tag is the category of a note. The store accepts only the values below.
type Tag string

// Known tags.
const (
	TagTodo     Tag = "Todo"
	TagWork     Tag = "Work"
	TagPersonal Tag = "Personal"
	TagMeeting  Tag = "Meeting"
	TagShopping Tag = "Shopping"
)

// Tags lists every accepted tag in display order.
var Tags = []Tag{TagTodo, TagWork, TagPersonal, TagMeeting, TagShopping}

// ParseTag matches s against the known tags case-insensitively.
func ParseTag(s string) (Tag, bool) {
	s = strings.TrimSpace(s)
	for _, t := range Tags {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Field bounds enforced by the store.
const (
	MaxTitleLength   = 50
	MaxContentLength = 500
)

// Note is a single note owned by the remote store.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tag       Tag       `json:"tag"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// NoteFields are the user-supplied fields of a new note.
type NoteFields struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
	Tag     Tag    `json:"tag" yaml:"tag"`
}

// Validate mirrors the store's validation rules.
func (f NoteFields) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required, validation.RuneLength(1, MaxTitleLength)),
		validation.Field(&f.Content, validation.RuneLength(0, MaxContentLength)),
		validation.Field(&f.Tag, validation.Required, validation.In(TagTodo, TagWork, TagPersonal, TagMeeting, TagShopping)),
	)
}

// ListParams selects one page of notes.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
}

// Page is one page of a note listing, normalized from whatever shape the
// store returned. TotalPages is authoritative for pagination.
type Page struct {
	Notes      []Note `json:"notes"`
	TotalPages int    `json:"totalPages"`
}

// Deleted confirms a delete. Note is set when the store echoes the deleted note.
type Deleted struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Note    *Note  `json:"note,omitempty"`
}
