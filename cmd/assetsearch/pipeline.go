package main

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/assetsearch/internal/inventory"
	"github.com/dshills/assetsearch/internal/pipeline"
)

var errStoreUnavailable = errors.New("search store unavailable")

// openPipeline builds and starts a pipeline over the configured content root
func (a *app) openPipeline(ctx context.Context) (*pipeline.Pipeline, *inventory.Directory, error) {
	dir, err := inventory.NewDirectory(a.cfg.Content.Root, a.cfg.Content.Extension, a.logger)
	if err != nil {
		return nil, nil, err
	}

	reg, err := a.cfg.Registry()
	if err != nil {
		return nil, nil, err
	}
	cache, err := a.cfg.BuildCache()
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(a.cfg.PipelineOptions(), pipeline.Deps{
		Registry: reg,
		Loader:   dir,
		Files:    dir,
		Cache:    cache,
		Open:     a.cfg.StoreOpener(a.logger),
		Logger:   a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, nil, err
	}
	return p, dir, nil
}

// tickInterval is the producer's Tick period
func (a *app) tickInterval() time.Duration {
	if d := a.cfg.Pipeline.TickInterval.Duration; d > 0 {
		return d
	}
	return 100 * time.Millisecond
}

// runProducer calls Tick until ctx is canceled. onEnabled runs, in the
// producer goroutine, whenever the pipeline becomes enabled, including the
// first tick when the store opened at start.
func runProducer(ctx context.Context, p *pipeline.Pipeline, interval time.Duration, onEnabled func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasEnabled := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			enabled := p.Enabled()
			if enabled && !wasEnabled && onEnabled != nil {
				onEnabled()
			}
			wasEnabled = enabled
			p.Tick()
		}
	}
}
