package session

import (
	"context"
	"fmt"

	"github.com/starford/notehub/internal/models"
)

// Intent is a user action emitted by a view binding.
type Intent interface {
	intent()
}

// SearchChanged carries raw search input.
type SearchChanged struct{ Raw string }

// PageChanged requests a page.
type PageChanged struct{ Page int }

// CreateRequested submits the creation form.
type CreateRequested struct{ Fields models.NoteFields }

// DeleteRequested deletes one note.
type DeleteRequested struct{ ID string }

func (SearchChanged) intent()   {}
func (PageChanged) intent()     {}
func (CreateRequested) intent() {}
func (DeleteRequested) intent() {}

// Dispatch applies an intent. Only mutations can fail; their errors are
// *mutation.Error values.
func (s *Session) Dispatch(ctx context.Context, in Intent) error {
	switch in := in.(type) {
	case SearchChanged:
		s.SetSearchInput(in.Raw)
	case PageChanged:
		s.SetPage(in.Page)
	case CreateRequested:
		_, err := s.CreateNote(ctx, in.Fields)
		return err
	case DeleteRequested:
		_, err := s.DeleteNote(ctx, in.ID)
		return err
	default:
		return fmt.Errorf("unknown intent %T", in)
	}
	return nil
}
