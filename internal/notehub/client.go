// Package notehub is the HTTP client for the remote note store.
//
// The store speaks JSON over three routes:
//
//	GET    /notes?page={n}&perPage={n}[&search={s}]
//	POST   /notes            {title, content, tag}
//	DELETE /notes/{id}
//
// Listing responses come in two shapes, {notes, totalPages} and
// {items, total, page, perPage, totalPages}; both are normalized to
// models.Page with TotalPages as the single source of pagination.
package notehub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/notehub/internal/credential"
	"github.com/starford/notehub/internal/models"
)

const maxErrorBody = 4 << 10

// Client talks to the note store. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials credential.Source
	readRetries int
	logger      *slog.Logger

	lists singleflight.Group
	// writes counts successful creates and deletes. It is part of the
	// singleflight key so a list issued after a write never joins a request
	// that started before it.
	writes atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCredentials sets the bearer token source.
func WithCredentials(src credential.Source) Option {
	return func(c *Client) {
		c.credentials = src
	}
}

// WithReadRetries sets how many times a list request is retried after a
// network failure. Client and server errors are never retried.
func WithReadRetries(n int) Option {
	return func(c *Client) {
		c.readRetries = max(n, 0)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the store rooted at baseURL
// (e.g. "https://notehub.example/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: credential.Static(""),
		readRetries: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// listResponse accepts both listing shapes.
type listResponse struct {
	Notes      []models.Note `json:"notes"`
	Items      []models.Note `json:"items"`
	Total      *int          `json:"total"`
	Page       int           `json:"page"`
	PerPage    int           `json:"perPage"`
	TotalPages *int          `json:"totalPages"`
}

func (r *listResponse) normalize(requestedPerPage int) *models.Page {
	notes := r.Notes
	if notes == nil {
		notes = r.Items
	}
	if notes == nil {
		notes = []models.Note{}
	}

	var totalPages int
	switch {
	case r.TotalPages != nil:
		totalPages = *r.TotalPages
	case r.Total != nil:
		perPage := r.PerPage
		if perPage <= 0 {
			perPage = requestedPerPage
		}
		if perPage > 0 {
			totalPages = (*r.Total + perPage - 1) / perPage
		}
	case len(notes) > 0:
		totalPages = 1
	}
	return &models.Page{Notes: notes, TotalPages: max(totalPages, 0)}
}

// ListNotes fetches one page. An empty search is left out of the query string.
// Concurrent calls with identical parameters share a single request, unless a
// create or delete succeeded in between.
func (c *Client) ListNotes(ctx context.Context, p models.ListParams) (*models.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("perPage", strconv.Itoa(p.PerPage))
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	path := "/notes?" + q.Encode()

	key := strconv.FormatUint(c.writes.Load(), 10) + " " + path
	v, err, shared := c.lists.Do(key, func() (any, error) {
		return c.listWithRetry(ctx, path, p.PerPage)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("notehub: shared list request", slog.String("path", path))
	}
	page := v.(*models.Page)
	// Each caller gets its own slice header.
	return &models.Page{Notes: append([]models.Note(nil), page.Notes...), TotalPages: page.TotalPages}, nil
}

func (c *Client) listWithRetry(ctx context.Context, path string, perPage int) (*models.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= c.readRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("notehub: retrying list after network error",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
		}
		var resp listResponse
		err := c.do(ctx, "list", http.MethodGet, path, nil, &resp)
		if err == nil {
			return resp.normalize(perPage), nil
		}
		lastErr = err
		if ClassOf(err) != ClassNetwork || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// CreateNote validates fields locally and then creates the note.
func (c *Client) CreateNote(ctx context.Context, fields models.NoteFields) (*models.Note, error) {
	if err := fields.Validate(); err != nil {
		return nil, &Error{Op: "create", Class: ClassClient, Message: err.Error(), Err: err}
	}
	var note models.Note
	if err := c.do(ctx, "create", http.MethodPost, "/notes", fields, &note); err != nil {
		return nil, err
	}
	c.writes.Add(1)
	return &note, nil
}

// deleteResponse accepts either the deleted note or an {id, message} ack.
type deleteResponse struct {
	models.Note
	Message string `json:"message"`
}

// DeleteNote deletes the note with the given id. Deleting an id that no longer
// exists fails with a not-found error.
func (c *Client) DeleteNote(ctx context.Context, id string) (*models.Deleted, error) {
	if id == "" {
		return nil, &Error{Op: "delete", Class: ClassClient, Message: "id is required"}
	}
	var resp deleteResponse
	if err := c.do(ctx, "delete", http.MethodDelete, "/notes/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	c.writes.Add(1)
	out := &models.Deleted{ID: resp.ID, Message: resp.Message}
	if out.ID == "" {
		out.ID = id
	}
	if resp.Title != "" || resp.Tag != "" {
		note := resp.Note
		out.Note = &note
	}
	return out, nil
}

// do performs one request and decodes the JSON response into target.
func (c *Client) do(ctx context.Context, op, method, path string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notehub: marshal %s body: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("notehub: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.credentials.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Class: ClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("notehub: request done",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return &Error{
			Op:         op,
			Class:      classify(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp),
		}
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		// A truncated or garbled body is the server's fault.
		return &Error{Op: op, Class: ClassServer, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

// errorMessage extracts the store's error text from {"message"} or {"error"}
// bodies, falling back to the raw body.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
