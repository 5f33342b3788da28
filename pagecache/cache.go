// Package pagecache implements the Splat Page Cache: a
// fixed-capacity, GPU-resident LRU table over chunks demand-loaded by a
// bounded fetcher pool and prioritized by the Traverser.
package pagecache

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/klauspost/compress/zstd"
	"github.com/oxy-go/splat-lod/config"
	"github.com/oxy-go/splat-lod/container"
	"github.com/oxy-go/splat-lod/registry"
	"github.com/oxy-go/splat-lod/traverser"
)

// ObjectChunk identifies one object's chunk, the atomic unit of residency
// and fetch.
type ObjectChunk struct {
	Tree  uint64
	Chunk uint32
}

// FetchedChunk is a completed fetch+decode awaiting promotion.
type FetchedChunk struct {
	ObjectChunk
	TreeBlob     []byte // node records for registry.UpdateTrees
	SplatPayload []byte // raw per-splat bytes for the GPU page
}

// FaultKind mirrors this package's ErrorKind for the OnFault callback,
// keeping the callback boundary decoupled from *Error.
type FaultKind = ErrorKind

// Cache is the paged splat working set. All methods are safe for
// concurrent use; fetch completions arrive from pool workers while the
// Render Driver calls the frame-driven methods.
type Cache struct {
	mu sync.Mutex

	pageSize  uint32
	pageCount uint32

	free     []uint32
	owner    map[uint32]ObjectChunk
	chunkPg  map[ObjectChunk]uint32
	touched  map[uint32]uint64 // page -> monotonic touch counter
	needed   map[uint32]bool
	touchSeq uint64

	inFlight  map[ObjectChunk]bool
	queued    map[ObjectChunk]bool
	fetchedQ  []FetchedChunk
	numFetchers  int
	activeFetch  int

	sources map[uint64]container.RangeReader
	headers map[uint64]container.Header

	pool worker.DynamicWorkerPool
	gpu  GPUPagePool

	overCapacityWarned map[uint64]bool

	// OnFault is invoked for OverCapacity and ChunkDecodeFailed events;
	// engine.New wires this to Diagnostics.ReportOverCapacity /
	// Diagnostics.ReportChunkDecodeFailed so this package stays free of a
	// hard dependency on the diagnostics store.
	OnFault func(kind FaultKind, tree uint64, chunk uint32, err error)
}

// New creates a Cache sized per cfg, uploading resident pages through gpu.
func New(cfg config.Config, gpu GPUPagePool) *Cache {
	pageCount := cfg.PageCount()
	free := make([]uint32, pageCount)
	for i := range free {
		free[i] = uint32(pageCount) - 1 - uint32(i)
	}
	return &Cache{
		pageSize:           cfg.PageSize,
		pageCount:          pageCount,
		free:               free,
		owner:              make(map[uint32]ObjectChunk),
		chunkPg:            make(map[ObjectChunk]uint32),
		touched:            make(map[uint32]uint64),
		needed:             make(map[uint32]bool),
		inFlight:           make(map[ObjectChunk]bool),
		queued:             make(map[ObjectChunk]bool),
		sources:            make(map[uint64]container.RangeReader),
		headers:            make(map[uint64]container.Header),
		pool:               worker.NewDynamicWorkerPool(cfg.NumFetchers, 256, time.Second),
		gpu:                gpu,
		numFetchers:        cfg.NumFetchers,
		overCapacityWarned: make(map[uint64]bool),
		OnFault:            func(FaultKind, uint64, uint32, error) {},
	}
}

// RegisterSource associates a tree-id with the container it streams from.
func (c *Cache) RegisterSource(treeID uint64, hdr container.Header, source container.RangeReader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[treeID] = hdr
	c.sources[treeID] = source
}

// FetchRootChunk synchronously fetches and decodes chunk 0 of a container
// not yet registered with a tree-id, for the root-chunk bootstrap path
// that ingests the root's node blob before the tree exists in the
// registry. The tree-id is unknown to the caller at this point, so the
// returned FetchedChunk's ObjectChunk carries Chunk 0 only; the caller
// fills in Tree before passing it to SeedFetched.
func (c *Cache) FetchRootChunk(hdr container.Header, source container.RangeReader) (FetchedChunk, error) {
	if len(hdr.Chunks) == 0 {
		return FetchedChunk{}, fmt.Errorf("pagecache: header has no chunks")
	}
	return fetchAndDecode(ObjectChunk{Chunk: 0}, hdr.Chunks[0], source)
}

// SeedFetched injects an already-fetched chunk directly into the
// promotion queue, for the root-chunk bootstrap path that fetches chunk 0
// synchronously at tree creation rather than through the normal
// priority-driven dispatch, so the next DrainFetched/Promote pass assigns
// it a GPU page without re-fetching it over the network.
func (c *Cache) SeedFetched(fc FetchedChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued[fc.ObjectChunk] = true
	c.fetchedQ = append(c.fetchedQ, fc)
}

// IsResident reports whether oc currently occupies a page.
func (c *Cache) IsResident(oc ObjectChunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chunkPg[oc]
	return ok
}

// FreeCount and ResidentCount support the |free|+|resident| = P invariant
// directly from tests.
func (c *Cache) FreeCount() int     { c.mu.Lock(); defer c.mu.Unlock(); return len(c.free) }
func (c *Cache) ResidentCount() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.owner) }
func (c *Cache) PageCount() uint32  { return c.pageCount }

// SubmitPriority replaces the needed set for this frame and dispatches fetches for entries that are neither
// resident nor already in flight nor already queued for upload, bounded by
// num_fetchers. fetchPriority (root-chunk bootstrap) is serviced first.
func (c *Cache) SubmitPriority(priority, fetchPriority []traverser.PriorityEntry) {
	c.mu.Lock()
	c.needed = make(map[uint32]bool, len(priority))
	c.mu.Unlock()

	// Touch needed, already-resident pages in reverse-priority order so the
	// most important entry ends up freshest.
	c.mu.Lock()
	for i := len(priority) - 1; i >= 0; i-- {
		oc := ObjectChunk{Tree: priority[i].TreeID, Chunk: priority[i].ChunkID}
		if page, ok := c.chunkPg[oc]; ok {
			c.touchSeq++
			c.touched[page] = c.touchSeq
			c.needed[page] = true
		}
	}
	c.mu.Unlock()

	for _, e := range fetchPriority {
		c.maybeDispatch(ObjectChunk{Tree: e.TreeID, Chunk: e.ChunkID})
	}
	for _, e := range priority {
		c.maybeDispatch(ObjectChunk{Tree: e.TreeID, Chunk: e.ChunkID})
	}
}

func (c *Cache) maybeDispatch(oc ObjectChunk) {
	c.mu.Lock()
	if _, resident := c.chunkPg[oc]; resident {
		c.mu.Unlock()
		return
	}
	if c.inFlight[oc] || c.queued[oc] {
		c.mu.Unlock()
		return
	}
	if c.activeFetch >= c.numFetchers {
		c.mu.Unlock()
		return
	}
	source, hasSource := c.sources[oc.Tree]
	hdr, hasHeader := c.headers[oc.Tree]
	if !hasSource || !hasHeader || int(oc.Chunk) >= len(hdr.Chunks) {
		c.mu.Unlock()
		return
	}
	c.inFlight[oc] = true
	c.activeFetch++
	c.mu.Unlock()

	desc := hdr.Chunks[oc.Chunk]
	c.pool.SubmitTask(worker.Task{
		ID: int(oc.Chunk),
		Do: func() (any, error) {
			fc, err := fetchAndDecode(oc, desc, source)

			c.mu.Lock()
			delete(c.inFlight, oc)
			c.activeFetch--
			if err == nil {
				c.queued[oc] = true
				c.fetchedQ = append(c.fetchedQ, fc)
			}
			c.mu.Unlock()

			if err != nil {
				c.OnFault(ChunkDecodeFailed, oc.Tree, oc.Chunk, err)
			}
			return nil, err
		},
	})
}

// fetchAndDecode pulls, integrity-checks, decompresses, and splits one
// chunk's bytes into the tree-blob and splat-payload halves a promotion
// needs. The chunk wire format is {u32 treeBlobLen}{treeBlob}{splatPayload},
// zstd-compressed as a whole.
func fetchAndDecode(oc ObjectChunk, desc container.ChunkDescriptor, source container.RangeReader) (FetchedChunk, error) {
	raw, err := container.FetchChunk(source, desc)
	if err != nil {
		return FetchedChunk{}, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return FetchedChunk{}, fmt.Errorf("pagecache: init decompressor: %w", err)
	}
	defer decoder.Close()
	decompressed, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return FetchedChunk{}, fmt.Errorf("pagecache: decompress chunk %d: %w", oc.Chunk, err)
	}
	if len(decompressed) < 4 {
		return FetchedChunk{}, fmt.Errorf("pagecache: chunk %d truncated", oc.Chunk)
	}
	blobLen := int(decompressed[0]) | int(decompressed[1])<<8 | int(decompressed[2])<<16 | int(decompressed[3])<<24
	if 4+blobLen > len(decompressed) {
		return FetchedChunk{}, fmt.Errorf("pagecache: chunk %d malformed blob length", oc.Chunk)
	}

	return FetchedChunk{
		ObjectChunk:  oc,
		TreeBlob:     decompressed[4 : 4+blobLen],
		SplatPayload: decompressed[4+blobLen:],
	}, nil
}

// DrainFetched pops up to max completed fetches in FIFO order.
func (c *Cache) DrainFetched(max int) []FetchedChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max <= 0 || max > len(c.fetchedQ) {
		max = len(c.fetchedQ)
	}
	out := append([]FetchedChunk(nil), c.fetchedQ[:max]...)
	c.fetchedQ = c.fetchedQ[max:]
	return out
}

// Promote allocates a page for fc (free list first, then the least-
// recently-used evictable page), uploads its payload, and returns the
// Registry update(s) needed: evict (for the page's previous owner, if any)
// always precedes populate when both are present.
func (c *Cache) Promote(fc FetchedChunk) (evict *registry.UpdateRange, populate registry.UpdateRange, err error) {
	c.mu.Lock()

	var page uint32
	var hadPrevOwner bool
	var prevOwner ObjectChunk

	if len(c.free) > 0 {
		page = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
	} else {
		victim, ok := c.lruEvictable()
		if !ok {
			warn := !c.overCapacityWarned[fc.Tree]
			if warn {
				c.overCapacityWarned[fc.Tree] = true
			}
			c.mu.Unlock()
			err := newError(OverCapacity, "promote", fmt.Errorf("no evictable page for tree %d", fc.Tree))
			if warn {
				c.OnFault(OverCapacity, fc.Tree, fc.Chunk, err)
			}
			return nil, registry.UpdateRange{}, err
		}
		page = victim
		prevOwner = c.owner[page]
		hadPrevOwner = true
		delete(c.owner, page)
		delete(c.chunkPg, prevOwner)
	}

	c.owner[page] = fc.ObjectChunk
	c.chunkPg[fc.ObjectChunk] = page
	c.touchSeq++
	c.touched[page] = c.touchSeq
	delete(c.queued, fc.ObjectChunk)
	c.mu.Unlock()

	if uploadErr := c.gpu.UploadPage(page, fc.SplatPayload); uploadErr != nil {
		return nil, registry.UpdateRange{}, fmt.Errorf("pagecache: upload page %d: %w", page, uploadErr)
	}

	populate = registry.UpdateRange{TreeID: fc.Tree, PageBase: page, ChunkBase: fc.Chunk, Count: 1, Blob: fc.TreeBlob}
	if hadPrevOwner {
		ev := registry.UpdateRange{TreeID: prevOwner.Tree, ChunkBase: prevOwner.Chunk, Count: 1, Blob: nil}
		evict = &ev
	}
	return evict, populate, nil
}

// lruEvictable returns the resident, not-needed page with the oldest touch
// stamp, or ok=false if none exists.
func (c *Cache) lruEvictable() (uint32, bool) {
	var best uint32
	var bestSeq uint64 = ^uint64(0)
	found := false
	for page := range c.owner {
		if c.needed[page] {
			continue
		}
		if seq := c.touched[page]; !found || seq < bestSeq {
			best, bestSeq, found = page, seq, true
		}
	}
	return best, found
}

// ReleaseTree frees every page resident for treeID, for Dispose wiring:
// pages return to the free list within the same frame.
func (c *Cache) ReleaseTree(treeID uint64) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var freed []uint32
	for page, oc := range c.owner {
		if oc.Tree != treeID {
			continue
		}
		delete(c.owner, page)
		delete(c.chunkPg, oc)
		delete(c.touched, page)
		delete(c.needed, page)
		c.free = append(c.free, page)
		freed = append(freed, page)
	}
	return freed
}
