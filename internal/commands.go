package internal

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notehub/internal/mcpserver"
	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/parser"
	"github.com/starford/notehub/internal/session"
)

// RunMCP serves the notehub tools over MCP stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	client, tokenFile, err := connect(cfg.Notehub, logger)
	if err != nil {
		return fmt.Errorf("init notehub client: %w", err)
	}

	sess := session.New(client, cfg.Notehub.PerPage,
		session.WithStaleAfter(cfg.Notehub.StaleAfter),
		session.WithLogger(logger),
	)
	defer sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if tokenFile != nil {
		g.Go(func() error {
			return tokenFile.Watch(gCtx, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		logger.Info("MCP server starting on stdio", slog.String("notehub_url", cfg.Notehub.BaseURL))
		return mcpserver.New(sess, app.version).ServeStdio()
	})

	return g.Wait()
}

// openSession starts a short-lived session for a one-shot command.
func openSession(opts []Option) (*application, *session.Session, error) {
	app, logger, err := setup(opts)
	if err != nil {
		return nil, nil, err
	}
	client, _, err := connect(app.config.Notehub, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init notehub client: %w", err)
	}
	sess := session.New(client, app.config.Notehub.PerPage, session.WithLogger(logger))
	return app, sess, nil
}

// List prints one page of notes as a table.
func List(ctx context.Context, page int, search string, opts ...Option) error {
	app, sess, err := openSession(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	v, err := sess.Load(ctx, page, search)
	if err != nil {
		return err
	}
	if v.Error {
		return fmt.Errorf("list notes: %s", v.Message)
	}

	tw := tabwriter.NewWriter(app.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTAG\tCREATED")
	for _, n := range v.Items {
		created := ""
		if !n.CreatedAt.IsZero() {
			created = n.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Title, n.Tag, created)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(v.Items) == 0 {
		fmt.Fprintln(app.out(), "no notes")
	}
	fmt.Fprintf(app.out(), "page %d of %d\n", v.Page, max(v.PageCount, 1))
	return nil
}

// CreateInput holds the flags of "notehub create". Explicit fields override
// whatever Markdown carries.
type CreateInput struct {
	Title    string
	Content  string
	Tag      string
	Markdown []byte
}

// Fields resolves the input into note fields.
func (in CreateInput) Fields() (models.NoteFields, error) {
	var fields models.NoteFields
	if len(in.Markdown) > 0 {
		res, err := parser.Parse(in.Markdown)
		if err != nil {
			return fields, err
		}
		fields = res.Fields()
	}
	if in.Title != "" {
		fields.Title = in.Title
	}
	if in.Content != "" {
		fields.Content = in.Content
	}
	if in.Tag != "" {
		tag, ok := models.ParseTag(in.Tag)
		if !ok {
			return fields, fmt.Errorf("unknown tag %q", in.Tag)
		}
		fields.Tag = tag
	}
	return fields, nil
}

// Create submits a new note and prints its id.
func Create(ctx context.Context, in CreateInput, opts ...Option) error {
	fields, err := in.Fields()
	if err != nil {
		return err
	}

	app, sess, err := openSession(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	note, err := sess.CreateNote(ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out(), "created %s\t%s\n", note.ID, note.Title)
	return nil
}

// Delete removes a note by id.
func Delete(ctx context.Context, id string, opts ...Option) error {
	app, sess, err := openSession(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.DeleteNote(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(app.out(), "deleted %s\n", id)
	return nil
}
