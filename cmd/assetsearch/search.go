package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/assetsearch/internal/query"
	"github.com/dshills/assetsearch/pkg/types"
)

type searchOptions struct {
	limit  int
	format string
}

func newSearchCommand(a *app) *cobra.Command {
	opts := searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed asset properties",
		Long: `Search the full-text index for asset properties matching the query.

Bare words match as prefixes, and a run of bare words also matches them
joined together. Quoted phrases match exactly. OR (|, ||) alternates,
AND (&, &&) and parentheses group. Results are ranked by BM25.`,
		Example: `  assetsearch search "red chair"
  assetsearch search -l 50 'metal OR "brushed steel"'
  assetsearch search -f json fireball`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 20, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json, paths)")
	return cmd
}

func (a *app) runSearch(ctx context.Context, out io.Writer, q string, opts searchOptions) error {
	switch opts.format {
	case "table", "json", "paths":
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	store, err := a.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	expr := query.Translate(q)
	a.logger.Debug("translated query", "query", q, "expr", expr)

	var hits []types.SearchHit
	err = store.Search(ctx, expr, opts.limit, func(hit types.SearchHit) bool {
		hits = append(hits, hit)
		return true
	})
	if err != nil {
		return err
	}

	switch opts.format {
	case "json":
		return outputSearchJSON(out, hits)
	case "paths":
		return outputSearchPaths(out, hits)
	default:
		if len(hits) == 0 {
			_, _ = fmt.Fprintln(out, "No results found")
			return nil
		}
		outputSearchTable(out, hits)
		return nil
	}
}

func outputSearchTable(out io.Writer, hits []types.SearchHit) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Asset", "Type", "Object", "Property", "Value", "Score (BM25)"})

	for _, hit := range hits {
		property := hit.PropertyName
		if hit.PropertyField != "" {
			property += "." + hit.PropertyField
		}
		t.AppendRow(table.Row{hit.AssetPath, hit.AssetType, hit.ObjectName, property, hit.ValueText, fmt.Sprintf("%.4f", hit.Score)})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

func outputSearchJSON(out io.Writer, hits []types.SearchHit) error {
	if hits == nil {
		hits = []types.SearchHit{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(hits)
}

// outputSearchPaths prints each matching asset once, best match first
func outputSearchPaths(out io.Writer, hits []types.SearchHit) error {
	seen := make(map[string]bool)
	for _, hit := range hits {
		if seen[hit.AssetPath] {
			continue
		}
		seen[hit.AssetPath] = true
		if _, err := fmt.Fprintln(out, hit.AssetPath); err != nil {
			return err
		}
	}
	return nil
}
