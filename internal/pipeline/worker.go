package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/assetsearch/internal/cachekey"
	"github.com/dshills/assetsearch/internal/ddc"
	"github.com/dshills/assetsearch/internal/extractor"
	"github.com/dshills/assetsearch/internal/filehash"
	"github.com/dshills/assetsearch/pkg/types"
)

// run is the worker loop. It is the only goroutine that uses p.store.
func (p *Pipeline) run() {
	defer close(p.done)
	defer p.closeStore()

	timer := time.NewTimer(p.cfg.IdleSleep)
	defer timer.Stop()

	for {
		if p.ctx.Err() != nil {
			return
		}

		if p.store == nil {
			if p.reconnect.Allow() {
				if err := p.openStore(); err != nil {
					p.logger.Debug("store reconnect failed", "err", err)
				} else {
					p.logger.Info("search store reopened, indexing enabled")
				}
			}
		} else {
			p.scheduleStatsRefresh()
			if p.step() {
				continue
			}
		}

		timer.Reset(p.cfg.IdleSleep)
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

func (p *Pipeline) openStore() error {
	store, err := p.deps.Open()
	if err != nil {
		p.enabled.Store(false)
		return err
	}
	p.store = store
	p.files = filehash.New(store, p.deps.Files, p.logger)
	p.lastStats = time.Time{}
	p.enabled.Store(true)
	return nil
}

func (p *Pipeline) closeStore() {
	p.enabled.Store(false)
	if p.store == nil {
		return
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warn("failed to close search store", "err", err)
	}
	p.store = nil
}

// step executes the next item in priority order and reports whether any
// work was done
func (p *Pipeline) step() bool {
	if job, ok := p.oneShot.pop(); ok {
		job(p.ctx)
		p.outstanding.Add(-1)
		return true
	}

	if p.fetchStreak < p.cfg.FetchDrainPerTick {
		if res, ok := p.fetched.pop(); ok {
			p.fetchStreak++
			p.handleFetched(res)
			p.outstanding.Add(-1)
			return true
		}
	}
	p.fetchStreak = 0

	if p.resumeParked() {
		return true
	}

	if op, ok := p.updates.pop(); ok {
		p.handleOperation(op)
		p.outstanding.Add(-1)
		return true
	}

	return p.fetched.len() > 0
}

func (p *Pipeline) scheduleStatsRefresh() {
	if time.Since(p.lastStats) < p.cfg.StatsRefresh {
		return
	}
	p.lastStats = time.Now()
	p.pushOneShot(p.refreshStats)
}

func (p *Pipeline) refreshStats(ctx context.Context) {
	n, err := p.store.CountIndexedProperties(ctx)
	if err != nil {
		p.logger.Warn("failed to count indexed properties", "err", err)
		return
	}
	p.stats.totalIndexedProperties.Store(n)
}

// Generations order asynchronous results against later operations on the
// same asset: a result whose generation is not current is dropped.

func (p *Pipeline) bump(path string) uint64 {
	p.gens[path]++
	return p.gens[path]
}

func (p *Pipeline) stale(path string, gen uint64) bool {
	return p.gens[path] != gen
}

func (p *Pipeline) handleOperation(op Operation) {
	switch op.Kind {
	case OpIndex:
		p.handleIndex(op)
	case OpRemove:
		p.handleRemove(op)
	case OpReconcile:
		p.handleReconcile(op)
	case OpStore:
		p.handleStore(op)
	default:
		p.logger.Warn("unknown operation", "kind", op.Kind)
	}
}

func (p *Pipeline) handleIndex(op Operation) {
	id := op.ID
	gen := p.bump(id.Path)

	info, _ := p.files.GetOrRefresh(p.ctx, id)
	if !info.IsValid() {
		p.logger.Debug("backing file unavailable, index deferred", "asset", id.Path)
		return
	}

	versions := p.deps.Registry.VersionString(id.Type)
	if versions == "" {
		return
	}
	key := cachekey.Compute(id, info.Hash, versions)

	if op.Force {
		p.requestExtraction(pendingFetch{id: id, gen: gen, key: key})
		return
	}

	upToDate, err := p.store.IsUpToDate(p.ctx, id, key)
	if err != nil {
		p.logger.Warn("failed to check index state", "asset", id.Path, "err", err)
		return
	}
	if upToDate {
		p.stats.assetsUpToDate.Add(1)
		p.clearMissing(id)
		return
	}

	pf := pendingFetch{id: id, gen: gen, key: key}
	if len(p.parked) == 0 && p.fetchSlots.TryAcquire(1) {
		p.fetch(pf)
		return
	}
	p.outstanding.Add(1)
	p.parkedCount.Add(1)
	p.parked = append(p.parked, pf)
}

// resumeParked starts the oldest parked fetch if a slot is free
func (p *Pipeline) resumeParked() bool {
	for len(p.parked) > 0 {
		pf := p.parked[0]
		if !p.stale(pf.id.Path, pf.gen) && !p.fetchSlots.TryAcquire(1) {
			return false
		}
		p.parked = p.parked[1:]
		p.parkedCount.Add(-1)
		if p.stale(pf.id.Path, pf.gen) {
			p.outstanding.Add(-1)
			continue
		}
		p.fetch(pf)
		p.outstanding.Add(-1)
		return true
	}
	p.parked = nil
	return false
}

// fetch looks key up in the build cache on its own goroutine. The caller
// holds a fetch slot, released when the lookup completes.
func (p *Pipeline) fetch(pf pendingFetch) {
	p.outstanding.Add(1)
	p.stats.activeFetches.Add(1)
	go func() {
		data, err := p.deps.Cache.Get(p.ctx, pf.key)
		p.pushFetched(fetchResult{pendingFetch: pf, data: data, err: err})
		p.stats.activeFetches.Add(-1)
		p.fetchSlots.Release(1)
		p.outstanding.Add(-1)
	}()
}

func (p *Pipeline) handleFetched(res fetchResult) {
	if p.stale(res.id.Path, res.gen) {
		p.logger.Debug("dropping stale fetch", "asset", res.id.Path)
		return
	}

	switch {
	case res.err == nil:
		list, err := types.UnmarshalPropertyList(res.data)
		if err != nil {
			p.dropCorrupt(res, err)
			return
		}
		p.stats.cacheHits.Add(1)
		p.write(res.id, list.Properties, res.key)

	case errors.Is(res.err, ddc.ErrCorrupt):
		p.dropCorrupt(res, res.err)

	case errors.Is(res.err, ddc.ErrMiss):
		p.stats.cacheMisses.Add(1)
		p.requestExtraction(res.pendingFetch)

	default:
		p.logger.Warn("build cache fetch failed", "asset", res.id.Path, "key", res.key, "err", res.err)
		p.markMissing(res.id)
	}
}

// dropCorrupt deletes an undecodable cache entry and reports the asset missing
func (p *Pipeline) dropCorrupt(res fetchResult, err error) {
	p.logger.Warn("corrupt build cache payload", "asset", res.id.Path, "key", res.key, "err", err)
	p.markMissing(res.id)
	p.background(func(ctx context.Context) error {
		return p.deps.Cache.Delete(ctx, res.key)
	})
}

// requestExtraction runs extraction in the producer context. The result
// returns to the worker as an OpStore operation; on success the payload is
// also written to the build cache.
func (p *Pipeline) requestExtraction(pf pendingFetch) {
	p.pushProducer(func() {
		props, err := p.extract(pf.id)
		p.pushUpdate(Operation{Kind: OpStore, ID: pf.id, Key: pf.key, Props: props, Err: err, gen: pf.gen})
		if err != nil {
			return
		}

		data, err := types.PropertyList{Properties: props}.Marshal()
		if err != nil {
			p.logger.Warn("failed to encode payload", "asset", pf.id.Path, "err", err)
			return
		}
		p.background(func(ctx context.Context) error {
			return p.deps.Cache.Put(ctx, pf.key, data)
		})
	})
}

func (p *Pipeline) extract(id types.AssetIdentity) ([]types.Property, error) {
	p.stats.extractions.Add(1)
	asset, err := p.deps.Loader.Load(p.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	list, err := extractor.Extract(p.ctx, p.deps.Registry, asset)
	if err != nil {
		return nil, err
	}
	return list.Properties, nil
}

// background runs a build cache call on its own goroutine
func (p *Pipeline) background(fn func(ctx context.Context) error) {
	p.outstanding.Add(1)
	go func() {
		defer p.outstanding.Add(-1)
		if err := fn(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("build cache write failed", "err", err)
		}
	}()
}

func (p *Pipeline) handleStore(op Operation) {
	if p.stale(op.ID.Path, op.gen) {
		p.logger.Debug("dropping stale extraction", "asset", op.ID.Path)
		return
	}
	if op.Err != nil {
		p.logger.Warn("extraction failed", "asset", op.ID.Path, "err", op.Err)
		p.markMissing(op.ID)
		return
	}
	p.write(op.ID, op.Props, op.Key)
}

func (p *Pipeline) write(id types.AssetIdentity, props []types.Property, key string) {
	if err := p.store.AddOrUpdate(p.ctx, id, props, key); err != nil {
		p.logger.Warn("failed to store asset", "asset", id.Path, "key", key, "err", err)
		return
	}
	p.stats.assetsIndexed.Add(1)
	p.clearMissing(id)
	p.logger.Debug("asset indexed", "asset", id.Path, "properties", len(props))
}

func (p *Pipeline) handleRemove(op Operation) {
	p.bump(op.ID.Path)
	if err := p.store.Remove(p.ctx, op.ID); err != nil {
		p.logger.Warn("failed to remove asset", "asset", op.ID.Path, "err", err)
	}
	p.clearMissing(op.ID)
}

func (p *Pipeline) handleReconcile(op Operation) {
	known := make(map[string]struct{}, len(op.Paths))
	for _, path := range op.Paths {
		known[path] = struct{}{}
	}

	removed, err := p.store.ReconcileAgainstSnapshot(p.ctx, op.Paths)
	if err != nil {
		p.logger.Warn("reconcile failed", "removed", removed, "err", err)
	}

	for path := range p.gens {
		if _, ok := known[path]; !ok {
			p.gens[path]++
		}
	}
	for path := range p.missing {
		if _, ok := known[path]; !ok {
			delete(p.missing, path)
		}
	}
	p.publishMissing()
	p.logger.Info("reconciled against inventory", "known", len(op.Paths), "removed", removed)
}

func (p *Pipeline) markMissing(id types.AssetIdentity) {
	p.missing[id.Path] = id
	p.publishMissing()
}

func (p *Pipeline) clearMissing(id types.AssetIdentity) {
	if _, ok := p.missing[id.Path]; !ok {
		return
	}
	delete(p.missing, id.Path)
	p.publishMissing()
}
