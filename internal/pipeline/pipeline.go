// Package pipeline implements the background indexing pipeline.
//
// Three execution contexts cooperate:
//   - the producer, which reports inventory events, issues searches and calls
//     Tick periodically to run producer-side work (extraction, result delivery);
//   - a single worker goroutine, the only code that touches the search store
//     and the file hash cache;
//   - goroutines spawned for build cache fetches and writes.
//
// All communication goes through unbounded queues, so producers never block.
// The worker drains them in priority order: one-shot work (searches,
// diagnostics) first, then build cache fetch completions, then store updates.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dshills/assetsearch/internal/ddc"
	"github.com/dshills/assetsearch/internal/extractor"
	"github.com/dshills/assetsearch/internal/filehash"
	"github.com/dshills/assetsearch/internal/query"
	"github.com/dshills/assetsearch/internal/storage"
	"github.com/dshills/assetsearch/pkg/types"
)

var (
	// ErrMissingDependency is returned by New when a collaborator is nil
	ErrMissingDependency = errors.New("missing pipeline dependency")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// searchBatchSize is the number of hits delivered per producer callback
const searchBatchSize = 64

// OpenFunc opens the search store. It is called on Start and again, at most
// once per Config.ReconnectInterval, while the store is unavailable.
type OpenFunc func() (storage.Storage, error)

// Deps are the collaborators a Pipeline needs
type Deps struct {
	Registry *extractor.Registry
	Loader   extractor.Loader
	Files    filehash.FileSystem
	Cache    ddc.Cache
	Open     OpenFunc
	Logger   *log.Logger
}

// OpKind identifies a pending operation
type OpKind int

const (
	OpIndex     OpKind = iota // (re)index one asset
	OpRemove                  // remove one asset
	OpReconcile               // prune assets absent from a full snapshot
	OpStore                   // write a finished extraction
)

func (k OpKind) String() string {
	switch k {
	case OpIndex:
		return "index"
	case OpRemove:
		return "remove"
	case OpReconcile:
		return "reconcile"
	case OpStore:
		return "store"
	default:
		return "unknown"
	}
}

// Operation is a unit of store work consumed exactly once by the worker
type Operation struct {
	Kind  OpKind
	ID    types.AssetIdentity
	Paths []string // OpReconcile: every known asset path
	Force bool     // OpIndex: skip the up-to-date check and the build cache

	// OpStore
	Key   string
	Props []types.Property
	Err   error

	gen uint64 // asset generation the operation was issued for
}

// pendingFetch is an index request waiting on the build cache
type pendingFetch struct {
	id  types.AssetIdentity
	gen uint64
	key string
}

// fetchResult is a completed build cache lookup
type fetchResult struct {
	pendingFetch
	data []byte
	err  error
}

// Pipeline coordinates change detection, extraction and store writes
type Pipeline struct {
	cfg        Config
	deps       Deps
	logger     *log.Logger
	translator *query.Cache

	enabled atomic.Bool
	started atomic.Bool
	stats   counters

	// outstanding counts queued or in-flight work items. A handler enqueues
	// its follow-up work before its own item is released.
	outstanding atomic.Int64

	// Producer side
	mu         sync.Mutex
	scanOrder  []string
	pendingSet map[string]types.AssetIdentity
	ignored    map[types.AssetIdentity]struct{}

	// Queues
	oneShot  queue[func(context.Context)]
	fetched  queue[fetchResult]
	updates  queue[Operation]
	producer queue[func()]
	wake     chan struct{}

	fetchSlots *semaphore.Weighted

	// Worker-owned
	store       storage.Storage
	files       *filehash.Cache
	gens        map[string]uint64
	missing     map[string]types.AssetIdentity
	parked      []pendingFetch
	parkedCount atomic.Int64
	fetchStreak int
	lastStats   time.Time
	reconnect   *rate.Limiter

	missingMu       sync.Mutex
	missingSnapshot []types.AssetIdentity

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Pipeline. The registry is frozen if it is not already.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("registry"))
	case deps.Loader == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("loader"))
	case deps.Files == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("file system"))
	case deps.Cache == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("build cache"))
	case deps.Open == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("store opener"))
	}

	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	translator, err := query.NewCache(query.DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	deps.Registry.Freeze()

	return &Pipeline{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.WithPrefix("pipeline"),
		translator: translator,
		pendingSet: make(map[string]types.AssetIdentity),
		ignored:    make(map[types.AssetIdentity]struct{}),
		wake:       make(chan struct{}, 1),
		fetchSlots: semaphore.NewWeighted(int64(cfg.ParallelFetches)),
		gens:       make(map[string]uint64),
		missing:    make(map[string]types.AssetIdentity),
		reconnect:  rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
	}, nil
}

// Start opens the store and launches the worker. When the store cannot be
// opened the pipeline starts disabled: events and searches are ignored while
// the worker keeps retrying in the background.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	p.reconnect.Allow()
	if err := p.openStore(); err != nil {
		p.logger.Error("search store unavailable, indexing disabled", "err", err)
	}

	go p.run()
	return nil
}

// Stop stops the worker after its current item and closes the store.
// Queued work is discarded.
func (p *Pipeline) Stop() {
	if !p.started.Load() {
		return
	}
	p.cancel()
	<-p.done
}

// Enabled reports whether the store is open and events are being processed
func (p *Pipeline) Enabled() bool {
	return p.enabled.Load()
}

// signal wakes the worker if it is sleeping
func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) pushOneShot(fn func(context.Context)) {
	p.outstanding.Add(1)
	p.oneShot.push(fn)
	p.signal()
}

func (p *Pipeline) pushUpdate(op Operation) {
	p.outstanding.Add(1)
	p.updates.push(op)
	p.signal()
}

func (p *Pipeline) pushFetched(res fetchResult) {
	p.outstanding.Add(1)
	p.fetched.push(res)
	p.signal()
}

func (p *Pipeline) pushProducer(fn func()) {
	p.outstanding.Add(1)
	p.producer.push(fn)
}

// Producer API

// AssetDiscovered schedules a scan of id. Assets whose type has no extractor
// are ignored permanently.
func (p *Pipeline) AssetDiscovered(id types.AssetIdentity) {
	if !p.enabled.Load() || id.Validate() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ignored[id]; ok {
		return
	}
	if !p.deps.Registry.Indexable(id.Type) {
		p.ignored[id] = struct{}{}
		return
	}
	if _, ok := p.pendingSet[id.Path]; !ok {
		p.scanOrder = append(p.scanOrder, id.Path)
	}
	p.pendingSet[id.Path] = id
}

// AssetRemoved cancels any pending scan of id and queues its removal
func (p *Pipeline) AssetRemoved(id types.AssetIdentity) {
	if !p.enabled.Load() {
		return
	}

	p.mu.Lock()
	delete(p.pendingSet, id.Path)
	p.mu.Unlock()

	p.pushUpdate(Operation{Kind: OpRemove, ID: id})
}

// FullInventorySnapshot queues removal of every stored asset not in ids
func (p *Pipeline) FullInventorySnapshot(ids []types.AssetIdentity) {
	if !p.enabled.Load() {
		return
	}

	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = id.Path
	}
	p.pushUpdate(Operation{Kind: OpReconcile, Paths: paths})
}

// Search translates q and streams matching hits, best first, to onHit in the
// producer context (during Tick). Returning false from onHit stops the
// search. onDone, if set, runs in the producer context after the last hit.
func (p *Pipeline) Search(q string, onHit func(types.SearchHit) bool, onDone func(error)) {
	if !p.enabled.Load() {
		return
	}

	requestID := uuid.NewString()
	expr := p.translator.Translate(q)

	var stopped atomic.Bool
	deliver := func(hits []types.SearchHit) func() {
		return func() {
			for _, hit := range hits {
				if stopped.Load() {
					return
				}
				if !onHit(hit) {
					stopped.Store(true)
					return
				}
			}
		}
	}
	finish := func(err error) {
		if onDone != nil {
			p.pushProducer(func() { onDone(err) })
		}
	}

	if expr == "" {
		finish(nil)
		return
	}

	p.pushOneShot(func(ctx context.Context) {
		start := time.Now()
		count := 0
		batch := make([]types.SearchHit, 0, searchBatchSize)

		err := p.store.Search(ctx, expr, p.cfg.MaxSearchHits, func(hit types.SearchHit) bool {
			if stopped.Load() {
				return false
			}
			count++
			batch = append(batch, hit)
			if len(batch) == searchBatchSize {
				p.pushProducer(deliver(batch))
				batch = make([]types.SearchHit, 0, searchBatchSize)
			}
			return true
		})
		if len(batch) > 0 {
			p.pushProducer(deliver(batch))
		}
		if err != nil {
			p.logger.Warn("search failed", "request", requestID, "query", q, "err", err)
		}
		p.logger.Debug("search complete", "request", requestID, "expr", expr, "hits", count, "duration", time.Since(start))
		finish(err)
	})
}

// Tick runs producer-side work: up to Config.ScanRatePerTick pending scans
// become index requests, then every queued producer callback runs. Call it
// periodically from the producer's goroutine.
func (p *Pipeline) Tick() {
	if p.enabled.Load() {
		p.scan()
	}
	for _, fn := range p.producer.drain() {
		fn()
		p.outstanding.Add(-1)
	}
}

func (p *Pipeline) scan() {
	p.mu.Lock()
	defer p.mu.Unlock()

	issued := 0
	for len(p.scanOrder) > 0 && issued < p.cfg.ScanRatePerTick {
		path := p.scanOrder[0]
		p.scanOrder = p.scanOrder[1:]
		id, ok := p.pendingSet[path]
		if !ok {
			continue
		}
		delete(p.pendingSet, path)
		p.pushUpdate(Operation{Kind: OpIndex, ID: id})
		issued++
	}
	if len(p.pendingSet) == 0 {
		p.scanOrder = nil
	}
}

// ForceReindexMissing queues a forced extraction of every asset currently
// missing an index, bypassing the build cache. It returns the number of
// assets missing an index at the time of the call.
func (p *Pipeline) ForceReindexMissing() int {
	if !p.enabled.Load() {
		return 0
	}
	n := int(p.stats.assetsMissingIndex.Load())
	p.pushOneShot(func(context.Context) {
		for _, id := range p.missing {
			p.pushUpdate(Operation{Kind: OpIndex, ID: id, Force: true})
		}
	})
	return n
}

// Stats returns a snapshot of the diagnostics counters
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	pending := len(p.pendingSet)
	p.mu.Unlock()

	return Stats{
		Enabled:                p.enabled.Load(),
		PendingScans:           pending,
		PendingStoreWrites:     p.updates.len() + p.fetched.len() + int(p.parkedCount.Load()),
		ActiveFetches:          p.stats.activeFetches.Load(),
		TotalIndexedProperties: p.stats.totalIndexedProperties.Load(),
		AssetsMissingIndex:     p.stats.assetsMissingIndex.Load(),
		AssetsIndexed:          p.stats.assetsIndexed.Load(),
		AssetsUpToDate:         p.stats.assetsUpToDate.Load(),
		CacheHits:              p.stats.cacheHits.Load(),
		CacheMisses:            p.stats.cacheMisses.Load(),
		Extractions:            p.stats.extractions.Load(),
	}
}

// MissingAssets lists the assets missing an index, sorted by path. It is
// empty unless Config.ShowMissingAssets is set.
func (p *Pipeline) MissingAssets() []types.AssetIdentity {
	p.missingMu.Lock()
	defer p.missingMu.Unlock()
	return append([]types.AssetIdentity(nil), p.missingSnapshot...)
}

// Idle reports whether there are no pending scans and no queued or
// in-flight work, including producer callbacks not yet run by Tick
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	pending := len(p.pendingSet)
	p.mu.Unlock()
	return pending == 0 && p.outstanding.Load() == 0
}

// publishMissing exposes the worker-owned missing set to other contexts
func (p *Pipeline) publishMissing() {
	p.stats.assetsMissingIndex.Store(int64(len(p.missing)))
	if !p.cfg.ShowMissingAssets {
		return
	}

	snapshot := make([]types.AssetIdentity, 0, len(p.missing))
	for _, id := range p.missing {
		snapshot = append(snapshot, id)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Path < snapshot[j].Path })

	p.missingMu.Lock()
	p.missingSnapshot = snapshot
	p.missingMu.Unlock()
}
