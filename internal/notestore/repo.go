package notestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notehub/internal/apperr"
	"github.com/starford/notehub/internal/models"
)

// ListResult is one page of notes plus the totals needed by either response shape.
type ListResult struct {
	Notes      []models.Note
	Total      int
	TotalPages int
}

// List returns page (1-indexed) of notes, newest first. search matches title
// or content case-insensitively; an empty search matches everything.
func (db *DB) List(ctx context.Context, page, perPage int, search string) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 12
	}

	where := ""
	var args []any
	if search != "" {
		like := "%" + escapeLike(strings.ToLower(search)) + "%"
		where = ` WHERE lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\'`
		args = append(args, like, like)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM notes`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("notestore: count: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, content, tag, created_at, updated_at
		FROM notes`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	defer rows.Close()

	notes := []models.Note{}
	for rows.Next() {
		var n models.Note
		var tag string
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &tag, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.Tag = models.Tag(tag)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResult{
		Notes:      notes,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Create inserts a new note with a fresh id.
func (db *DB) Create(ctx context.Context, f models.NoteFields) (*models.Note, error) {
	now := time.Now().UTC()
	n := &models.Note{
		ID:        uuid.NewString(),
		Title:     f.Title,
		Content:   f.Content,
		Tag:       f.Tag,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.Title, n.Content, string(n.Tag), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("notestore: insert: %w", err)
	}
	return n, nil
}

// Delete removes a note and returns it. A missing id yields apperr.ErrNotFound.
func (db *DB) Delete(ctx context.Context, id string) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var n models.Note
	var tag string
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, content, tag, created_at, updated_at FROM notes WHERE id = ?
	`, id).Scan(&n.ID, &n.Title, &n.Content, &tag, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notestore: get: %w", err)
	}
	n.Tag = models.Tag(tag)

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("notestore: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("notestore: commit: %w", err)
	}
	return &n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
