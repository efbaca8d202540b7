package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/assetsearch/internal/inventory"
	"github.com/dshills/assetsearch/internal/mcp"
)

func newServeCommand(a *app) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index in the background and serve searches over MCP on stdio",
		Long: `Scan the content root, keep the index current as files change, and
answer MCP tool calls (search_assets, get_index_status, reindex_missing) on
stdin/stdout. Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Scan once at startup without watching for changes")
	return cmd
}

func (a *app) runServe(ctx context.Context, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, dir, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Stop()

	srv, err := mcp.NewServer(p, a.logger)
	if err != nil {
		return err
	}

	var watcher *inventory.Watcher
	if watch {
		if watcher, err = inventory.NewWatcher(dir, p, a.cfg.Content.Debounce.Duration); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	// A full scan runs whenever the store becomes available, which also
	// recovers from a store that failed to open at startup.
	g.Go(func() error {
		return runProducer(gctx, p, a.tickInterval(), func() {
			if _, err := dir.Scan(gctx, p); err != nil {
				a.logger.Warn("inventory scan failed", "err", err)
			}
		})
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		// The client closing stdin ends the session.
		defer cancel()
		return srv.Serve(gctx, os.Stdin, os.Stdout)
	})

	err = g.Wait()
	a.logger.Info("server stopped", "stats", p.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
