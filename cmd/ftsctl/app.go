package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
)

func newApp() *cli.App {
	var cfg *config.Config
	// withIndex opens the configured index around action and commits on the
	// way out.
	withIndex := func(action func(*cli.Context, *indexer.Engine) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			idx, err := bootstrap.Open(c.Context, cfg, nil)
			if err != nil {
				return err
			}
			if err := action(c, idx.Engine); err != nil {
				idx.Engine.Rollback()
				idx.Close(c.Context)
				return err
			}
			return idx.Close(c.Context)
		}
	}

	return &cli.App{
		Name:  "ftsctl",
		Usage: "maintain and query a segment-search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/development.yaml",
				Usage:   "path to config file",
				EnvVars: []string{"SP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "debug, info, warn or error",
			},
		},
		Before: func(c *cli.Context) error {
			slog.SetDefault(logger.New(c.App.ErrWriter, c.String("log-level"), "text"))
			var err error
			cfg, err = config.Load(c.String("config"))
			return err
		},
		Commands: []*cli.Command{
			{
				Name:      "insert",
				Usage:     "add a document, one argument per column",
				ArgsUsage: "COLUMN...",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "id", Required: true, Usage: "document id"},
					&cli.BoolFlag{Name: "upsert", Usage: "replace the document when it exists"},
				},
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					if c.NArg() == 0 {
						return cli.Exit("insert needs at least one column", 2)
					}
					if c.Bool("upsert") {
						return e.Upsert(c.Context, c.Int64("id"), c.Args().Slice()...)
					}
					return e.Insert(c.Context, c.Int64("id"), c.Args().Slice()...)
				}),
			},
			{
				Name:      "delete",
				Usage:     "remove documents",
				ArgsUsage: "ID...",
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					for _, arg := range c.Args().Slice() {
						docid, err := strconv.ParseInt(arg, 10, 64)
						if err != nil {
							return cli.Exit(fmt.Sprintf("invalid document id %q", arg), 2)
						}
						if err := e.Delete(c.Context, docid); err != nil {
							return err
						}
					}
					return nil
				}),
			},
			{
				Name:      "query",
				Usage:     "print the ids of matching documents",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "desc", Usage: "descending docid order"},
					&cli.IntFlag{Name: "limit", Usage: "maximum rows, 0 for all"},
					&cli.IntFlag{Name: "offset", Usage: "rows to skip"},
					&cli.StringFlag{Name: "defer", Value: "auto", Usage: "token deferral: auto, always or never"},
					&cli.BoolFlag{Name: "json", Usage: "print the full result as JSON"},
					&cli.BoolFlag{Name: "offsets", Usage: "include match offsets (implies --json)"},
					&cli.BoolFlag{Name: "rank", Usage: "order by BM25 score instead of docid"},
					&cli.BoolFlag{Name: "matchinfo", Usage: "include match counts (implies --json)"},
					&cli.BoolFlag{Name: "snippet", Usage: "include a highlighted extract (implies --json)"},
					&cli.IntFlag{Name: "snippet-tokens", Value: 15, Usage: "approximate snippet length in tokens"},
				},
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					if c.NArg() != 1 {
						return cli.Exit("query takes exactly one argument", 2)
					}
					mode, err := executor.ParseDeferMode(c.String("defer"))
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					opts := indexer.SearchOptions{
						Limit:     c.Int("limit"),
						Offset:    c.Int("offset"),
						Defer:     mode,
						Offsets:   c.Bool("offsets"),
						Rank:      c.Bool("rank"),
						MatchInfo: c.Bool("matchinfo"),
					}
					if c.Bool("desc") {
						opts.Order = executor.Descending
					}
					if c.Bool("snippet") {
						snip := executor.DefaultSnippetOptions()
						snip.Tokens = c.Int("snippet-tokens")
						opts.Snippet = &snip
					}
					res, err := e.Search(c.Context, c.Args().First(), opts)
					if err != nil {
						return err
					}
					if c.Bool("json") || c.Bool("offsets") || c.Bool("matchinfo") || c.Bool("snippet") {
						return printJSON(c, res)
					}
					for _, docid := range res.DocIDs() {
						fmt.Fprintln(c.App.Writer, docid)
					}
					return nil
				}),
			},
			{
				Name:  "optimize",
				Usage: "merge every segment into one",
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					return e.Optimize(c.Context)
				}),
			},
			{
				Name:  "check",
				Usage: "verify the index against the stored documents",
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					if err := e.IntegrityCheck(c.Context); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "ok")
					return nil
				}),
			},
			{
				Name:  "vocab",
				Usage: "summarize the terms of the index",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "top", Value: 25, Usage: "most common terms to list"},
					&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON"},
				},
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					v, err := e.Vocabulary(c.Context, c.Int("top"))
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(c, v)
					}
					printVocabulary(c.App.Writer, v)
					return nil
				}),
			},
			{
				Name:  "segments",
				Usage: "print the segment directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the directory as JSON"},
				},
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					segs, err := e.SegmentMap(c.Context)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(c, segs)
					}
					printSegments(c.App.Writer, segs)
					return nil
				}),
			},
			{
				Name:  "stats",
				Usage: "print document and segment counts",
				Action: withIndex(func(c *cli.Context, e *indexer.Engine) error {
					st, err := e.Stats(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c, st)
				}),
			},
		},
	}
}

func percent(n int, of uint64) float64 {
	if of == 0 {
		return 0
	}
	return 100 * float64(n) / float64(of)
}

func printVocabulary(w io.Writer, v indexer.Vocabulary) {
	fmt.Fprintf(w, "Number of documents...................... %9d\n", v.Documents)
	fmt.Fprintf(w, "Total tokens in all documents............ %9d\n", v.Occurrences)
	fmt.Fprintf(w, "Total number of distinct tokens.......... %9d\n", v.Distinct)
	fmt.Fprintf(w, "Tokens used exactly once................. %9d %5.2f%%\n",
		v.Once, percent(v.Once, uint64(v.Distinct)))
	fmt.Fprintf(w, "Tokens used in only one document......... %9d %5.2f%%\n",
		v.SingleDoc, percent(v.SingleDoc, uint64(v.Distinct)))
	if len(v.Top) == 0 {
		return
	}
	fmt.Fprintf(w, "The %d most common tokens:\n", len(v.Top))
	for i, ts := range v.Top {
		fmt.Fprintf(w, "  %2d. %-30s %9d docs %5.2f%%\n", i+1, ts.Term, ts.Docs, percent(ts.Docs, v.Documents))
	}
}

func printSegments(w io.Writer, segs []indexer.SegmentInfo) {
	fmt.Fprintf(w, "Number of segments....................... %9d\n", len(segs))
	for _, s := range segs {
		fmt.Fprintf(w, "level %2d idx %2d", s.Level, s.Idx)
		if s.RootOnly {
			fmt.Fprintf(w, "  root only (%d bytes)\n", s.RootBytes)
			continue
		}
		fmt.Fprintf(w, "  leaves %9d thru %9d  (%d blocks)\n", s.FirstLeaf, s.LastLeaf, s.Leaves())
		if s.LastBlock > s.LastLeaf {
			fmt.Fprintf(w, "                 tree   %9d thru %9d  (%d blocks)\n",
				s.LastLeaf+1, s.LastBlock, s.LastBlock-s.LastLeaf)
		}
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
