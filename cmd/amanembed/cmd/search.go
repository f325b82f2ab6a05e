package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/search"
	"github.com/Aman-CERP/amanembed/internal/store"
)

type searchOptions struct {
	limit    int
	prefixes []string
	exclude  []string
	typ      string
	minScore float64
	like     string
	furthest bool
	format   string
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find the entities most similar to a query or another entity",
		Long: `Embed the query with the active model and list the entities whose
current vectors are most similar. Entities whose content changed since
they were embedded are never returned.

With --like, rank against the stored vector of an existing entity instead.

Examples:
  amanembed search "database backups"
  amanembed search "retry policy" --prefix docs/ --type block -n 5
  amanembed search --like docs/ops.md#backups --furthest
  amanembed search "auth" --format json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.like == "" && len(args) == 0 {
				return fmt.Errorf("a query or --like is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, a, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.limit)")
	cmd.Flags().StringSliceVarP(&opts.prefixes, "prefix", "p", nil, "Only keys with this prefix (repeatable)")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Keys to leave out (repeatable)")
	cmd.Flags().StringVarP(&opts.typ, "type", "t", "", "Entity type: source or block")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results below this similarity (default: search.min_score)")
	cmd.Flags().StringVar(&opts.like, "like", "", "Rank against this entity's vector instead of a query")
	cmd.Flags().BoolVar(&opts.furthest, "furthest", false, "With --like, list the least similar first")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSearch(cmd *cobra.Command, a *app, query string, opts searchOptions) (err error) {
	switch opts.typ {
	case "", string(store.TypeSource), string(store.TypeBlock):
	default:
		return amanerrors.ValidationError(fmt.Sprintf("unknown type %q (want source or block)", opts.typ), nil)
	}
	if opts.format != "text" && opts.format != "json" {
		return amanerrors.ValidationError(fmt.Sprintf("unknown format %q (want text or json)", opts.format), nil)
	}

	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.Limit
	}
	f := search.Filter{
		MinScore:    a.cfg.Search.MinScore,
		Prefixes:    opts.prefixes,
		ExcludeKeys: opts.exclude,
	}
	if cmd.Flags().Changed("min-score") {
		f.MinScore = opts.minScore
	}
	if opts.typ != "" {
		typ := opts.typ
		f.Predicate = func(r search.Result) bool { return r.Type == typ }
	}

	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var results []search.Result
	if opts.like != "" {
		results, err = s.idx.SimilarTo(opts.like, limit, f, opts.furthest)
	} else {
		results, err = s.idx.Similar(ctx, query, limit, f)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if results == nil {
			results = []search.Result{}
		}
		return enc.Encode(results)
	}
	return printResults(out, s.idx.Collection(), results)
}

func printResults(out io.Writer, coll *store.Collection, results []search.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No results.")
		return err
	}
	for i, r := range results {
		line := fmt.Sprintf("%2d. %.4f  %s", i+1, r.Score, r.Key)
		if e, ok := coll.Get(r.Key); ok {
			if h := e.Attr("header_path"); h != "" {
				line += "  (" + h + ")"
			}
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
