package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/Yinuo-Yao/xhs-recipe/internal/app"
	"github.com/Yinuo-Yao/xhs-recipe/internal/db"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
	"github.com/Yinuo-Yao/xhs-recipe/internal/recipe"
	"github.com/Yinuo-Yao/xhs-recipe/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app.App, database *sql.DB, logger *log.Logger) *cli.App {
	cliApp := &cli.App{
		Name:    "xhs-recipe",
		Usage:   "Turn a shared Xiaohongshu post into a bilingual recipe document",
		Version: Version,
		Commands: []*cli.Command{
			fetchCmd(a),
			generateCmd(a),
			historyCmd(database),
			statusCmd(a),
			serveCmd(a, database, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// fetchCmd creates the fetch command.
func fetchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch and normalize a shared post URL",
		ArgsUsage: "<url>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewConfig("exactly one post URL is required", "xhs-recipe fetch <url>"))
			}

			p, err := a.FetchPost(c.Context, c.Args().First(), "")
			if err != nil {
				return outputError(err)
			}
			return outputJSON(p)
		},
	}
}

// generateCmd creates the generate command: fetch, attach images, call the
// model, print the document.
func generateCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a recipe document from a shared post URL",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON instead of Markdown"},
			&cli.BoolFlag{Name: "no-images", Usage: "Skip image download and attachment"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewConfig("exactly one post URL is required", "xhs-recipe generate <url>"))
			}

			p, err := a.FetchPost(c.Context, c.Args().First(), "")
			if err != nil {
				return outputError(err)
			}

			in := app.GenerateInput{
				SourceURL: p.SourceURL,
				Caption:   p.Caption,
				Images:    p.Images,
			}
			if c.Bool("no-images") {
				in.Images = nil
			}

			result, err := a.GenerateRecipe(c.Context, in, "")
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Println(result.Markdown)
			return nil
		},
	}
}

// historyCmd creates the history command.
func historyCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List stored recipes, or print one by id",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum rows to list"},
			&cli.BoolFlag{Name: "html", Usage: "Render the selected recipe as HTML"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				row, err := db.GetByID(database, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				if c.Bool("html") {
					html, err := recipe.RenderHTML(row.Markdown)
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					fmt.Println(html)
					return nil
				}
				fmt.Println(row.Markdown)
				return nil
			}

			rows, err := db.ListRecent(database, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(rows)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check the tool server connection",
		Action: func(c *cli.Context) error {
			return outputJSON(a.CheckConnection(c.Context))
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(a *app.App, database *sql.DB, logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the localhost JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8787, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(a, database, logger, c.String("bind"), c.Int("port"))
			return web.Run(srv, logger)
		},
	}
}

// outputJSON writes indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats an error for the CLI, keeping the remediation hint
// visible.
func outputError(err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
		if e.Remediation != "" {
			msg += "\nhint: " + e.Remediation
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}
