package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notehub/internal"
	pkgconfig "github.com/starford/notehub/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func store(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunStore(ctx, opts...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func list(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.List(ctx, int(cmd.Int("page")), cmd.String("search"), opts...)
}

func create(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}

	in := internal.CreateInput{
		Title:   cmd.String("title"),
		Content: cmd.String("content"),
		Tag:     cmd.String("tag"),
	}
	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		in.Markdown = data
	}
	return internal.Create(ctx, in, opts...)
}

func remove(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return cli.Exit("usage: notehub delete <id>", 2)
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Delete(ctx, cmd.Args().First(), opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "notehub",
		Usage:   "Paginated, searchable notes client for a remote notehub store",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the local view API, SSE stream and metrics",
				Action: serve,
			},
			{
				Name:   "store",
				Usage:  "Run a SQLite-backed development note store",
				Action: store,
			},
			{
				Name:   "mcp",
				Usage:  "Expose notehub tools over MCP stdio",
				Action: mcp,
			},
			{
				Name:  "list",
				Usage: "Print one page of notes",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "1-based page number"},
					&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Search term"},
				},
				Action: list,
			},
			{
				Name:  "create",
				Usage: "Create a note from flags or a Markdown file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
					&cli.StringFlag{Name: "content"},
					&cli.StringFlag{Name: "tag", Usage: "Todo, Work, Personal, Meeting or Shopping"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Markdown file with optional frontmatter"},
				},
				Action: create,
			},
			{
				Name:      "delete",
				Usage:     "Delete a note by id",
				ArgsUsage: "<id>",
				Action:    remove,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
