// Package engine provides the top-level wiring for the LoD rendering
// engine: it owns the Registry, Cache, accumulators, and Render Driver, and
// exposes the multi-engine override pointer a shader-binding step consults
// when more than one engine instance is active.
package engine

import (
	"sync"

	"github.com/oxy-go/splat-lod/accumulator"
	"github.com/oxy-go/splat-lod/config"
	"github.com/oxy-go/splat-lod/diagnostics"
	"github.com/oxy-go/splat-lod/driver"
	"github.com/oxy-go/splat-lod/pagecache"
	"github.com/oxy-go/splat-lod/registry"
	"github.com/oxy-go/splat-lod/sortworker"
)

// Engine is the embedding application's entry point into one instance of
// the LoD rendering pipeline.
type Engine interface {
	// Frame runs one Render Driver pass.
	Frame(objects []driver.ObjectSource, instances []driver.ObjectInstance, fovY, renderHeight float32) error

	// Driver exposes the underlying Render Driver for callers that need
	// direct access (debug tooling, get_level queries via Registry).
	Driver() *driver.Driver

	// Close tears down the Sort Worker and diagnostics resources.
	Close() error
}

type engine struct {
	cfg      config.Config
	registry *registry.Registry
	cache    *pagecache.Cache
	pool     *accumulator.Pool
	sort     *sortworker.Worker
	diag     *diagnostics.Diagnostics
	drv      *driver.Driver
}

// Option configures an Engine during construction, following the usual
// `With<Field>(...) Option` idiom.
type Option func(*engine)

// WithDiagnostics attaches a diagnostics sink; without it, faults are
// dropped rather than logged/persisted/broadcast.
func WithDiagnostics(d *diagnostics.Diagnostics) Option {
	return func(e *engine) { e.diag = d }
}

// New constructs an Engine: a Registry, a Cache sized per cfg, a three-way
// accumulator Pool, a Sort Worker, and the Render Driver gluing them
// together.
func New(cfg config.Config, gpu pagecache.GPUPagePool, indexWriter accumulator.IndexWriter, depthReader driver.DepthReader, orderingUploader driver.OrderingUploader, options ...Option) Engine {
	e := &engine{cfg: cfg}
	for _, opt := range options {
		opt(e)
	}

	e.registry = registry.New()
	e.cache = pagecache.New(cfg, gpu)
	e.pool = accumulator.NewPool()
	e.sort = sortworker.New(cfg.MinSortInterval)

	if e.diag != nil {
		e.cache.OnFault = func(kind pagecache.FaultKind, tree uint64, chunk uint32, err error) {
			switch kind {
			case pagecache.OverCapacity:
				e.diag.ReportOverCapacity(tree, chunk, err.Error())
			case pagecache.ChunkDecodeFailed:
				e.diag.ReportChunkDecodeFailed(tree, chunk, err.Error())
			}
		}
	}

	e.drv = driver.New(cfg, e.registry, e.cache, e.pool, e.sort, e.diag, indexWriter, depthReader, orderingUploader)
	return e
}

func (e *engine) Frame(objects []driver.ObjectSource, instances []driver.ObjectInstance, fovY, renderHeight float32) error {
	err := e.drv.Frame(objects, instances, fovY, renderHeight)
	if e.drv.Stats != nil {
		e.drv.Stats.Tick(e.diag)
	}
	return err
}

func (e *engine) Driver() *driver.Driver { return e.drv }

func (e *engine) Close() error {
	e.sort.Dispose()
	if e.diag != nil {
		return e.diag.Close()
	}
	return nil
}

var (
	overrideMu sync.Mutex
	override   Engine
)

// SetOverride installs e as the engine a shader-binding step should
// consult instead of its default instance, for multi-engine scenarios.
// Callers must pair this with ClearOverride via defer immediately after
// use.
func SetOverride(e Engine) {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	override = e
}

// ClearOverride removes any installed override.
func ClearOverride() {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	override = nil
}

// Override returns the currently installed override engine, or nil if none
// is set.
func Override() Engine {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	return override
}
