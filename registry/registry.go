// Package registry implements the LoD Tree Registry: allocation
// and lifecycle of opaque tree handles, batched ranged payload updates, and
// exact-level debug queries.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/oxy-go/splat-lod/common"
)

// Node is one LoD tree node: an aggregated or leaf splat with its screen-
// space extent and child range, mirroring the original's LodSplat record
// (center/size/child_start/child_count).
type Node struct {
	Center     common.Vec3
	Radius     float32
	Parent     int32 // -1 for the root
	ChildStart uint32
	ChildCount uint16
}

// IsLeaf reports whether n has no children (corresponds to a source splat).
func (n Node) IsLeaf() bool { return n.ChildCount == 0 }

// Tree is one object's LoD hierarchy, or a shared handle aliasing another
// tree's payload.
type Tree struct {
	ID       uint64
	Capacity uint32
	Nodes    []Node

	// Shared is true when this handle aliases Primary's payload rather than
	// owning its own node array.
	Shared  bool
	Primary uint64

	// Paged is true for a tree backed by a streaming cache, where a chunk
	// not present in ChunkToPage is genuinely unresident rather than
	// simply never having needed paging. Set once at construction and
	// never cleared, so it can't be confused with ChunkToPage transiently
	// emptying out (construction with zero chunks populated yet, or every
	// chunk evicted back out by UpdateTrees).
	Paged bool

	// ChunkToPage / PageToChunk track paged residency for trees backed by a
	// streaming cache; both kept in sync by UpdateTrees.
	ChunkToPage map[uint32]uint32
	PageToChunk map[uint32]uint32

	// ChunkOfNode records which chunk each node index was last written as
	// part of, so the Traverser can ask "is this node's chunk resident".
	ChunkOfNode []uint32

	lastTouched time.Time
}

// IsChunkResident reports whether chunk c currently occupies a page. A
// non-paged, fully in-memory tree has no notion of residency and is
// always resident; a paged tree is resident only while ChunkToPage
// actually holds an entry for c, including when every chunk has been
// evicted back out and the map is (again) empty.
func (t *Tree) IsChunkResident(c uint32) bool {
	if !t.Paged {
		return true
	}
	_, ok := t.ChunkToPage[c]
	return ok
}

// ChunkOf returns the chunk-id owning node index idx, or 0 if unknown.
func (t *Tree) ChunkOf(idx int) uint32 {
	if idx < 0 || idx >= len(t.ChunkOfNode) {
		return 0
	}
	return t.ChunkOfNode[idx]
}

// effectiveNodes returns the node array this tree's traversal/level queries
// operate against: its own for a primary tree, the primary's for a shared
// handle.
func (t *Tree) effectiveNodes(byID map[uint64]*Tree) []Node {
	if !t.Shared {
		return t.Nodes
	}
	if p, ok := byID[t.Primary]; ok {
		return p.Nodes
	}
	return nil
}

// UpdateRange is one entry of a batched ranged payload update. A nil Blob means "evicted: collapse to
// parent-only representation"; a present Blob means "populate these nodes".
type UpdateRange struct {
	TreeID    uint64
	PageBase  uint32
	ChunkBase uint32
	Count     uint32
	Blob      []byte
}

// DisposeResult reports resources released by Dispose, so callers (the
// Cache) can return freed pages to their own free list within the same
// frame.
type DisposeResult struct {
	FreedPages []uint32
}

// Registry owns every live Tree. All methods are safe for concurrent use;
// in practice the Render Driver is the sole caller, but get_level is
// documented as safe to call from debug tooling concurrently
// with traversal, so the lock is real rather than vestigial.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	trees  map[uint64]*Tree
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{trees: make(map[uint64]*Tree)}
}

// NewTree allocates an in-memory, non-paged tree with room for capacity
// nodes.
func (r *Registry) NewTree(capacity uint32) (uint64, error) {
	if capacity == 0 {
		return 0, newError(InvalidArgument, "new_tree", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.trees[id] = &Tree{
		ID:          id,
		Capacity:    capacity,
		Nodes:       make([]Node, 0, capacity),
		ChunkToPage: make(map[uint32]uint32),
		PageToChunk: make(map[uint32]uint32),
		lastTouched: now(),
	}
	return id, nil
}

// NewSharedTree creates a second handle aliasing primary's payload, for
// paged containers where multiple instances reference one streamed tree.
func (r *Registry) NewSharedTree(primary uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[primary]; !ok {
		return 0, newError(UnknownTree, "new_shared_tree", nil)
	}
	r.nextID++
	id := r.nextID
	r.trees[id] = &Tree{
		ID:          id,
		Shared:      true,
		Primary:     primary,
		ChunkToPage: make(map[uint32]uint32),
		PageToChunk: make(map[uint32]uint32),
		lastTouched: now(),
	}
	return id, nil
}

const nodeRecordSize = 24

// decodeNodeBlob parses a packed_tree_blob into a flat node array: each
// record is center (3 half-floats), radius (half-float), child-start
// (uint32), child-count (uint16), parent (int32), with 6 bytes reserved.
func decodeNodeBlob(blob []byte) []Node {
	count := len(blob) / nodeRecordSize
	nodes := make([]Node, count)
	for i := 0; i < count; i++ {
		off := i * nodeRecordSize
		nodes[i] = decodeNodeRecord(blob[off : off+nodeRecordSize])
	}
	return nodes
}

// InitTree bootstraps a paged tree from a container's root chunk: it
// decodes the root blob's node records up front so traversal has a valid,
// if coarse, hierarchy immediately, rather than the zero nodes a tree
// would otherwise start with until the first UpdateTrees call lands. The
// new tree is marked Paged, so IsChunkResident treats any chunk other
// than those actually promoted through UpdateTrees as unresident.
func (r *Registry) InitTree(numSplats uint32, blob []byte) (uint64, error) {
	if len(blob)%nodeRecordSize != 0 {
		return 0, newError(InvalidArgument, "init_tree", nil)
	}
	nodes := decodeNodeBlob(blob)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.trees[id] = &Tree{
		ID:          id,
		Capacity:    numSplats,
		Paged:       true,
		Nodes:       nodes,
		ChunkOfNode: make([]uint32, len(nodes)),
		ChunkToPage: make(map[uint32]uint32),
		PageToChunk: make(map[uint32]uint32),
		lastTouched: now(),
	}
	return id, nil
}

// Dispose releases a tree and reports the pages it held resident so the
// Cache can reclaim them immediately.
func (r *Registry) Dispose(id uint64) (DisposeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trees[id]
	if !ok {
		return DisposeResult{}, newError(UnknownTree, "dispose", nil)
	}
	freed := make([]uint32, 0, len(t.PageToChunk))
	for page := range t.PageToChunk {
		freed = append(freed, page)
	}
	delete(r.trees, id)
	return DisposeResult{FreedPages: freed}, nil
}

// UpdateTrees applies a batch of ranged payload writes atomically from the
// caller's perspective: all ranges take effect, or
// none do, except that a range addressing an already-disposed tree is
// dropped silently rather than failing the whole batch.
func (r *Registry) UpdateTrees(ranges []UpdateRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate all live-tree ranges up front so a partial application never
	// happens for ranges whose tree does exist.
	for _, rg := range ranges {
		t, ok := r.trees[rg.TreeID]
		if !ok {
			continue // disposed mid-flight: drop, per Open Question 2.
		}
		if t.Capacity != 0 && rg.ChunkBase+rg.Count > t.Capacity {
			return newError(OutOfRange, "update_trees", nil)
		}
	}

	for _, rg := range ranges {
		t, ok := r.trees[rg.TreeID]
		if !ok {
			continue
		}
		t.lastTouched = now()
		if rg.Blob == nil {
			// Evicted: collapse the range to parent-only representation by
			// clearing residency; node data is left in place (still valid as
			// the coarser ancestor) until overwritten by a future populate.
			for c := rg.ChunkBase; c < rg.ChunkBase+rg.Count; c++ {
				if page, ok := t.ChunkToPage[c]; ok {
					delete(t.ChunkToPage, c)
					delete(t.PageToChunk, page)
				}
			}
			continue
		}

		nodes := decodeNodeBlob(rg.Blob)
		for i, n := range nodes {
			idx := int(rg.ChunkBase) + i
			if idx >= len(t.Nodes) {
				grown := make([]Node, idx+1)
				copy(grown, t.Nodes)
				t.Nodes = grown
				grownChunks := make([]uint32, idx+1)
				copy(grownChunks, t.ChunkOfNode)
				t.ChunkOfNode = grownChunks
			}
			t.Nodes[idx] = n
			t.ChunkOfNode[idx] = rg.ChunkBase
		}
		for c := rg.ChunkBase; c < rg.ChunkBase+rg.Count; c++ {
			page := rg.PageBase + (c - rg.ChunkBase)
			t.ChunkToPage[c] = page
			t.PageToChunk[page] = c
		}
	}
	return nil
}

// GetLevel returns the indices of all nodes at the given tree level, using
// a geometric radius descent: a node belongs to level L once its radius
// falls at or below the root's radius scaled by 1.25^-L (or it is a leaf).
func (r *Registry) GetLevel(id uint64, level int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trees[id]
	if !ok {
		return nil, newError(UnknownTree, "get_level", nil)
	}
	nodes := t.effectiveNodes(r.trees)
	if len(nodes) == 0 {
		return nil, nil
	}

	threshold := nodes[0].Radius / math32.Pow(1.25, float32(level))
	var out []int
	var walk func(idx int)
	walk = func(idx int) {
		n := nodes[idx]
		if n.Radius <= threshold || n.IsLeaf() {
			out = append(out, idx)
			return
		}
		for c := uint32(0); c < uint32(n.ChildCount); c++ {
			walk(int(n.ChildStart + c))
		}
	}
	walk(0)
	return out, nil
}

// Touch marks a tree as used this frame, resetting its idle-eviction timer.
func (r *Registry) Touch(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trees[id]; ok {
		t.lastTouched = now()
	}
}

// IdleTrees returns the ids of every tree untouched for at least d,
// ordered oldest-first, for the Driver's idle-eviction sweep.
func (r *Registry) IdleTrees(d time.Duration, asOf time.Time) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for id, t := range r.trees {
		if asOf.Sub(t.lastTouched) >= d {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.trees[ids[i]].lastTouched.Before(r.trees[ids[j]].lastTouched)
	})
	return ids
}

// Tree returns the live tree for traversal, or ok=false if the id is
// unknown. For a shared handle it returns a copy of the handle whose
// nodes and residency maps are the primary's (not copied).
func (r *Registry) Tree(id uint64) (*Tree, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trees[id]
	if !ok {
		return nil, false
	}
	if t.Shared {
		if p, ok := r.trees[t.Primary]; ok {
			shared := *t
			shared.Nodes = p.Nodes
			shared.ChunkOfNode = p.ChunkOfNode
			shared.ChunkToPage = p.ChunkToPage
			shared.PageToChunk = p.PageToChunk
			shared.Paged = p.Paged
			return &shared, true
		}
		return nil, false
	}
	return t, true
}

func now() time.Time { return time.Now() }
