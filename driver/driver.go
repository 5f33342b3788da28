// Package driver implements the Render Driver: the single
// per-frame orchestrator that rotates accumulators, drives LoD traversal,
// drains the page cache into the registry, kicks the sort worker, and
// sweeps idle trees.
package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/oxy-go/splat-lod/accumulator"
	"github.com/oxy-go/splat-lod/common"
	"github.com/oxy-go/splat-lod/config"
	"github.com/oxy-go/splat-lod/container"
	"github.com/oxy-go/splat-lod/diagnostics"
	"github.com/oxy-go/splat-lod/pagecache"
	"github.com/oxy-go/splat-lod/registry"
	"github.com/oxy-go/splat-lod/sortworker"
	"github.com/oxy-go/splat-lod/traverser"
)

const defaultMaxSplats = 500_000

// epsPos and epsDir are the view-delta gating thresholds: a pose change
// smaller than either is treated as "no view change" for composition
// gating.
const (
	epsPos = 1e-3
	epsDir = 1e-4
)

// ObjectSource describes one streamable object the Driver may need to
// create a Registry tree for on first encounter.
// SharedWith, when non-zero, names another ObjectSource's ID this one
// instances via registry.NewSharedTree rather than its own paged tree.
type ObjectSource struct {
	ID         uint64
	Header     container.Header
	Reader     container.RangeReader
	Capacity   uint32
	SharedWith uint64
}

// ObjectInstance is one frame's per-object pose and foveation parameters,
// keyed by the ObjectSource.ID the Driver resolves to a tree-id.
type ObjectInstance struct {
	ObjectID      uint64
	ViewToObject  [16]float32
	LodScale      float32
	BehindFoveate float32
	ConeFov0Deg   float32
	ConeFovDeg    float32
	ConeFoveate   float32
}

// DepthReader reads back an accumulator's depth target, an asynchronous
// GPU copy that can suspend the driving goroutine until it lands. A real
// renderer backs this with a GPU readback buffer; tests back it with
// canned data.
type DepthReader interface {
	ReadDepth(acc *accumulator.Accumulator) (n int, depth []uint32, err error)
}

// OrderingUploader publishes a completed sort's permutation into the
// ordering-table texture.
type OrderingUploader interface {
	UploadOrdering(version uint64, ordering []int, active int) error
}

// Driver owns the Registry, Cache, and accumulator Pool and is the only
// mutator of any of them.
type Driver struct {
	cfg config.Config

	Registry *registry.Registry
	Cache    *pagecache.Cache
	Pool     *accumulator.Pool
	Sort     *sortworker.Worker
	Diag     *diagnostics.Diagnostics
	Stats    *Stats

	indexWriter      accumulator.IndexWriter
	depthReader      DepthReader
	orderingUploader OrderingUploader

	mu            sync.Mutex
	objectTrees   map[uint64]uint64
	treeObjects   map[uint64]uint64
	lastResult    traverser.Result
	lastPoses     map[uint64]pose
	lastPixelLim  float32
	sorting       bool
	lastSortStart time.Time

	sortBuf []int

	// AutoDrive enables the view/composition-delta gate in step 2. Tests
	// that want every Frame call to fully compose should set this false.
	AutoDrive bool
}

type pose struct {
	pos     common.Vec3
	forward common.Vec3
}

// New constructs a Driver around the given components.
func New(cfg config.Config, reg *registry.Registry, cache *pagecache.Cache, pool *accumulator.Pool, sort *sortworker.Worker, diag *diagnostics.Diagnostics, indexWriter accumulator.IndexWriter, depthReader DepthReader, orderingUploader OrderingUploader) *Driver {
	sortCap := ((cfg.MaxPagedSplats + sortworker.OrderingGranularity - 1) / sortworker.OrderingGranularity) * sortworker.OrderingGranularity
	if sortCap == 0 {
		sortCap = sortworker.OrderingGranularity
	}
	return &Driver{
		cfg:              cfg,
		Registry:         reg,
		Cache:            cache,
		Pool:             pool,
		Sort:             sort,
		Diag:             diag,
		Stats:            NewStats(time.Second),
		indexWriter:      indexWriter,
		depthReader:      depthReader,
		orderingUploader: orderingUploader,
		objectTrees:      make(map[uint64]uint64),
		treeObjects:      make(map[uint64]uint64),
		lastPoses:        make(map[uint64]pose),
		sortBuf:          make([]int, sortCap),
		AutoDrive:        true,
	}
}

// Frame runs one full per-frame procedure.
func (d *Driver) Frame(objects []ObjectSource, instances []ObjectInstance, fovY, renderHeight float32) error {
	acc, ok := d.Pool.PopFree()
	if !ok {
		return nil // current and queued both occupied; nothing to compose into
	}

	objIndices := d.buildObjectIndices()
	mappingVersion, generate := acc.Prepare(d.Pool.NextVersion(), objIndices, d.indexWriter)

	compositionChanged := mappingVersion != d.Pool.Displayed().MappingVersion
	viewChanged := d.viewChanged(instances)
	d.recordPoses(instances)

	if d.AutoDrive && !viewChanged && !compositionChanged {
		d.Pool.Release(acc)
		return nil
	}

	if err := generate(); err != nil {
		d.Pool.Release(acc)
		return fmt.Errorf("driver: compose accumulator: %w", err)
	}

	if !compositionChanged {
		d.Pool.SwapDisplayed(acc)
	} else {
		d.Pool.SetCurrent(acc)
	}

	if d.cfg.EnableLod && d.cfg.EnableDriveLod {
		if err := d.driveLod(objects, instances, fovY, renderHeight); err != nil {
			return err
		}
	}

	d.driveSort()
	d.sweepIdle()

	return nil
}

// buildObjectIndices turns the previous frame's traversal result into this
// frame's composition input.
func (d *Driver) buildObjectIndices() []accumulator.ObjectIndices {
	out := make([]accumulator.ObjectIndices, 0, len(d.lastResult.Instances))
	for _, inst := range d.lastResult.Instances {
		idx := make([]int32, len(inst.Indices))
		for i, v := range inst.Indices {
			idx[i] = int32(v)
		}
		out = append(out, accumulator.ObjectIndices{TreeID: inst.TreeID, Indices: idx})
	}
	return out
}

func (d *Driver) viewChanged(instances []ObjectInstance) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inst := range instances {
		prev, ok := d.lastPoses[inst.ObjectID]
		pos, forward := poseFromMatrix(inst.ViewToObject)
		if !ok {
			return true
		}
		if common.Length(common.Sub(pos, prev.pos)) > epsPos {
			return true
		}
		if common.Dot(forward, prev.forward) < 1-epsDir {
			return true
		}
	}
	return false
}

func (d *Driver) recordPoses(instances []ObjectInstance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inst := range instances {
		pos, forward := poseFromMatrix(inst.ViewToObject)
		d.lastPoses[inst.ObjectID] = pose{pos: pos, forward: forward}
	}
}

func poseFromMatrix(m [16]float32) (common.Vec3, common.Vec3) {
	pos := common.Vec3{X: m[12], Y: m[13], Z: m[14]}
	forward := common.Vec3{X: -m[8], Y: -m[9], Z: -m[10]}
	return pos, forward
}

// driveLod handles tree creation, draining cache updates into the
// registry, traversal, and publishing its outputs.
func (d *Driver) driveLod(objects []ObjectSource, instances []ObjectInstance, fovY, renderHeight float32) error {
	for _, obj := range objects {
		if _, err := d.ensureTree(obj); err != nil {
			return fmt.Errorf("driver: ensure tree for object %d: %w", obj.ID, err)
		}
	}

	var ranges []registry.UpdateRange
	for _, fetched := range d.Cache.DrainFetched(0) {
		evict, populate, err := d.Cache.Promote(fetched)
		if err != nil {
			if d.Diag != nil {
				d.Diag.ReportOverCapacity(fetched.Tree, fetched.Chunk, err.Error())
			}
			continue
		}
		if evict != nil {
			ranges = append(ranges, *evict)
		}
		ranges = append(ranges, populate)
	}
	if len(ranges) > 0 {
		if err := d.Registry.UpdateTrees(ranges); err != nil {
			return fmt.Errorf("driver: update trees: %w", err)
		}
	}

	budget := d.cfg.LodSplatCount
	if budget == 0 {
		budget = defaultMaxSplats
	}
	scale := d.cfg.LodSplatScale
	if scale == 0 {
		scale = 1
	}
	budget = uint32(float32(budget) * scale)

	trInstances := make([]traverser.Instance, 0, len(instances))
	for _, inst := range instances {
		treeID, ok := d.objectTrees[inst.ObjectID]
		if !ok {
			continue
		}
		d.Registry.Touch(treeID)
		trInstances = append(trInstances, traverser.Instance{
			TreeID:        treeID,
			ViewToObject:  inst.ViewToObject,
			LodScale:      inst.LodScale,
			BehindFoveate: inst.BehindFoveate,
			ConeFov0Deg:   inst.ConeFov0Deg,
			ConeFovDeg:    inst.ConeFovDeg,
			ConeFoveate:   inst.ConeFoveate,
		})
	}

	renderScale := d.cfg.LodRenderScale
	if renderScale == 0 {
		renderScale = 1
	}
	result, err := traverser.Traverse(traverser.Params{
		MaxSplats:       budget,
		PixelScaleLimit: 0,
		LastPixelLimit:  d.lastPixelLim,
		FovY:            fovY,
		RenderHeight:    renderHeight,
		RenderScale:     renderScale,
	}, trInstances, d.Registry)
	if err != nil {
		return fmt.Errorf("driver: traverse: %w", err)
	}

	d.Cache.SubmitPriority(result.Priority, result.FetchPriority)
	d.lastPixelLim = result.PixelLimit
	d.lastResult = result
	return nil
}

// ensureTree lazily creates (or instances) the registry tree backing obj.
func (d *Driver) ensureTree(obj ObjectSource) (uint64, error) {
	if id, ok := d.objectTrees[obj.ID]; ok {
		return id, nil
	}

	if obj.SharedWith != 0 {
		primary, ok := d.objectTrees[obj.SharedWith]
		if !ok {
			return 0, fmt.Errorf("primary object %d not yet registered", obj.SharedWith)
		}
		id, err := d.Registry.NewSharedTree(primary)
		if err != nil {
			return 0, err
		}
		d.objectTrees[obj.ID] = id
		d.treeObjects[id] = obj.ID
		return id, nil
	}

	if len(obj.Header.Chunks) == 0 {
		id, err := d.Registry.NewTree(obj.Capacity)
		if err != nil {
			return 0, err
		}
		d.objectTrees[obj.ID] = id
		d.treeObjects[id] = obj.ID
		return id, nil
	}

	// Paged object: fetch the root chunk up front so the tree starts with
	// a valid, if coarse, hierarchy instead of zero nodes, then hand the
	// same fetch to the normal promotion pipeline so it lands a GPU page
	// without being fetched a second time.
	fc, err := d.Cache.FetchRootChunk(obj.Header, obj.Reader)
	if err != nil {
		return 0, fmt.Errorf("driver: fetch root chunk for object %d: %w", obj.ID, err)
	}
	id, err := d.Registry.InitTree(obj.Header.TotalSplats, fc.TreeBlob)
	if err != nil {
		return 0, err
	}
	d.Cache.RegisterSource(id, obj.Header, obj.Reader)
	fc.ObjectChunk = pagecache.ObjectChunk{Tree: id, Chunk: 0}
	d.Cache.SeedFetched(fc)
	d.objectTrees[obj.ID] = id
	d.treeObjects[id] = obj.ID
	return id, nil
}

// driveSort starts or coalesces a depth sort for the current accumulator.
func (d *Driver) driveSort() {
	current, ok := d.Pool.Current()
	if !ok {
		return
	}
	if current.MappingVersion == d.Pool.Displayed().MappingVersion {
		return
	}

	d.mu.Lock()
	if d.sorting || time.Since(d.lastSortStart) < d.cfg.MinSortInterval {
		d.mu.Unlock()
		return
	}
	if d.depthReader == nil || d.Sort == nil {
		d.mu.Unlock()
		return
	}
	d.sorting = true
	d.lastSortStart = time.Now()
	d.mu.Unlock()

	n, depth, err := d.depthReader.ReadDepth(current)
	if err != nil {
		d.mu.Lock()
		d.sorting = false
		d.mu.Unlock()
		return
	}

	start := time.Now()
	version := current.Version
	err = d.Sort.Submit(n, depth, d.sortBuf, func(active int, sortErr error) {
		d.mu.Lock()
		d.sorting = false
		d.mu.Unlock()
		d.Stats.Record(current.Active, uint32(d.Cache.ResidentCount()), 0, time.Since(start))
		if sortErr != nil || d.orderingUploader == nil {
			return
		}
		if upErr := d.orderingUploader.UploadOrdering(version, d.sortBuf, active); upErr == nil {
			d.Pool.PromoteCurrent()
		}
	})
	if err != nil {
		d.mu.Lock()
		d.sorting = false
		d.mu.Unlock()
	}
}

// sweepIdle releases the single oldest untouched tree past the dispose
// timeout per frame, bounding eviction churn.
func (d *Driver) sweepIdle() {
	idle := d.Registry.IdleTrees(d.cfg.DisposeTimeout, time.Now())
	if len(idle) == 0 {
		return
	}
	oldest := idle[0]
	if _, err := d.Registry.Dispose(oldest); err != nil {
		return
	}
	d.Cache.ReleaseTree(oldest)

	d.mu.Lock()
	if objID, ok := d.treeObjects[oldest]; ok {
		delete(d.treeObjects, oldest)
		delete(d.objectTrees, objID)
	}
	d.mu.Unlock()
}
