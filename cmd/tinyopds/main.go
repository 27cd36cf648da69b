package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tinyopds/tinyopds/pkg/config"
	"github.com/tinyopds/tinyopds/pkg/library"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/tinyopds/tinyopds/pkg/version"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	log.Info("starting tinyopds", logger.Data{"version": version.Version})

	app := &cli.App{
		Name:  "tinyopds",
		Usage: "e-book library metadata engine",
		Commands: []*cli.Command{
			statsCommand(),
			searchCommand(),
			addCommand(),
			reloadGenresCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

func openLibrary(c *cli.Context) (*library.Library, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	return library.Open(c.Context, cfg)
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print library counters",
		Action: func(c *cli.Context) error {
			lib, err := openLibrary(c)
			if err != nil {
				return err
			}
			defer lib.Close()

			counts := lib.Counts(c.Context)
			fmt.Printf("Books:     %d (fb2 %d, epub %d)\n", counts.TotalBooks, counts.FB2Books, counts.EPUBBooks)
			fmt.Printf("Authors:   %d\n", counts.Authors)
			fmt.Printf("Sequences: %d\n", counts.Sequences)
			fmt.Printf("New books: %d\n", counts.NewBooks)
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search books or authors",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "authors", Usage: "search authors instead of books"},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return cli.Exit("search needs a query", 1)
			}

			lib, err := openLibrary(c)
			if err != nil {
				return err
			}
			defer lib.Close()

			if c.Bool("authors") {
				for _, author := range lib.SearchAuthors(c.Context, query) {
					fmt.Println(author.Name)
				}
				return nil
			}
			for _, book := range lib.SearchBooks(c.Context, query) {
				fmt.Printf("%s — %s (%s)\n", book.Title, strings.Join(book.Authors, ", "), book.FileName)
			}
			return nil
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "record one book from flags",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "book file path", Required: true},
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringSliceFlag{Name: "author", Required: true},
			&cli.StringSliceFlag{Name: "genre", Required: true},
			&cli.StringFlag{Name: "language", Value: "ru"},
			&cli.StringFlag{Name: "annotation"},
			&cli.StringFlag{Name: "sequence"},
			&cli.IntFlag{Name: "sequence-number"},
		},
		Action: func(c *cli.Context) error {
			lib, err := openLibrary(c)
			if err != nil {
				return err
			}
			defer lib.Close()

			book := models.NewBook(c.String("file"))
			book.Title = c.String("title")
			book.Language = c.String("language")
			book.Annotation = c.String("annotation")
			book.Authors = c.StringSlice("author")
			book.Genres = c.StringSlice("genre")
			if seq := c.String("sequence"); seq != "" {
				book.Sequences = []models.SequenceRef{{
					Name:             seq,
					NumberInSequence: c.Int("sequence-number"),
				}}
			}

			// The content stream feeds the duplicate hash; a missing file
			// still records, just without one.
			var inserted bool
			if f, err := os.Open(c.String("file")); err == nil {
				defer f.Close()
				if fi, err := f.Stat(); err == nil {
					book.DocumentSize = fi.Size()
				}
				inserted, err = lib.AddBook(c.Context, book, f)
				if err != nil {
					return err
				}
			} else {
				inserted, err = lib.AddBook(c.Context, book, nil)
				if err != nil {
					return err
				}
			}

			if inserted {
				fmt.Printf("Added %s (%s)\n", book.Title, book.ID)
			} else {
				fmt.Printf("Skipped %s: duplicate\n", book.Title)
			}
			return nil
		},
	}
}

func reloadGenresCommand() *cli.Command {
	return &cli.Command{
		Name:  "reload-genres",
		Usage: "replace the genre taxonomy from the embedded definition",
		Action: func(c *cli.Context) error {
			lib, err := openLibrary(c)
			if err != nil {
				return err
			}
			defer lib.Close()

			if err := lib.ReloadGenres(c.Context); err != nil {
				return err
			}
			fmt.Println("Genre taxonomy reloaded")
			return nil
		},
	}
}
