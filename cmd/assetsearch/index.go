package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/assetsearch/internal/pipeline"
)

type indexOptions struct {
	rebuild bool
	vacuum  bool
	timeout time.Duration
}

func newIndexCommand(a *app) *cobra.Command {
	opts := indexOptions{}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the content root and index every changed asset",
		Long: `Run the indexing pipeline once over the whole content root: new and
changed assets are extracted (or restored from the build cache), assets that
no longer exist are removed, and the command exits when the pipeline is idle.`,
		Example: `  assetsearch index
  assetsearch index --rebuild
  assetsearch index --timeout 10m --vacuum`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runIndex(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Discard the existing index before scanning")
	cmd.Flags().BoolVar(&opts.vacuum, "vacuum", false, "Compact the database after indexing")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up after this long (0 = no limit)")
	return cmd
}

func (a *app) runIndex(ctx context.Context, out io.Writer, opts indexOptions) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	if opts.rebuild {
		if err := a.resetStore(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	p, dir, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Stop()

	if !p.Enabled() {
		return errStoreUnavailable
	}

	found, err := dir.Scan(ctx, p)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(a.tickInterval())
	defer ticker.Stop()
	for !p.Idle() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("indexing interrupted: %w", ctx.Err())
		case <-ticker.C:
			p.Tick()
		}
	}
	stats := p.Stats()
	p.Stop()

	// The pipeline refreshes its property count periodically; read the
	// final figure from the store.
	props, err := a.finishStore(ctx, opts.vacuum)
	if err != nil {
		return err
	}
	stats.TotalIndexedProperties = props

	a.logger.Info("indexing complete", "assets", found, "duration", time.Since(start).Round(time.Millisecond))
	renderIndexStats(out, found, stats)
	return nil
}

func (a *app) resetStore(ctx context.Context) error {
	store, err := a.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	a.logger.Info("discarding existing index", "path", store.Path())
	return store.Reset(ctx)
}

// finishStore optionally compacts the store and returns its property count
func (a *app) finishStore(ctx context.Context, vacuum bool) (int64, error) {
	store, err := a.cfg.OpenStore()
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.Close() }()

	if vacuum {
		if err := store.Vacuum(ctx); err != nil {
			return 0, err
		}
	}
	return store.CountIndexedProperties(ctx)
}

func renderIndexStats(out io.Writer, found int, stats pipeline.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRows([]table.Row{
		{"Assets found", humanize.Comma(int64(found))},
		{"Indexed", humanize.Comma(stats.AssetsIndexed)},
		{"Up to date", humanize.Comma(stats.AssetsUpToDate)},
		{"Build cache hits", humanize.Comma(stats.CacheHits)},
		{"Build cache misses", humanize.Comma(stats.CacheMisses)},
		{"Extractions", humanize.Comma(stats.Extractions)},
		{"Missing index", humanize.Comma(stats.AssetsMissingIndex)},
		{"Indexed properties", humanize.Comma(stats.TotalIndexedProperties)},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
