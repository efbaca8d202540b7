package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/assetsearch/internal/storage"
)

type storeStats struct {
	Path       string `json:"path"`
	Driver     string `json:"driver"`
	Assets     int64  `json:"assets"`
	Properties int64  `json:"properties"`
	FTSRows    int64  `json:"fts_rows"`
	SizeBytes  int64  `json:"size_bytes"`
	Consistent bool   `json:"consistent"`
}

func newStatsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.collectStats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			renderStoreStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

func (a *app) collectStats(ctx context.Context) (*storeStats, error) {
	store, err := a.cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	stats := &storeStats{Path: store.Path(), Driver: storage.DriverName + " (" + storage.BuildMode + ")"}
	if stats.Assets, err = store.CountAssets(ctx); err != nil {
		return nil, err
	}
	if stats.Properties, err = store.CountIndexedProperties(ctx); err != nil {
		return nil, err
	}
	if stats.FTSRows, err = store.CountProjection(ctx); err != nil {
		return nil, err
	}
	if stats.SizeBytes, err = store.SizeBytes(ctx); err != nil {
		return nil, err
	}
	stats.Consistent = stats.FTSRows == stats.Properties
	return stats, nil
}

func renderStoreStats(out io.Writer, stats *storeStats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendRows([]table.Row{
		{"Database", stats.Path},
		{"Driver", stats.Driver},
		{"Assets", humanize.Comma(stats.Assets)},
		{"Properties", humanize.Comma(stats.Properties)},
		{"Full-text rows", humanize.Comma(stats.FTSRows)},
		{"Size", humanize.Bytes(uint64(stats.SizeBytes))},
		{"Projection consistent", stats.Consistent},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
