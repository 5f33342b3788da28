// Package traverser implements the Multi-Tree Traverser: the
// bisection-driven joint cut through every instance's LoD tree that
// maximizes minimum projected splat size under a global splat budget,
// subject to per-instance foveation weighting and paged-chunk gating.
package traverser

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/oxy-go/splat-lod/common"
	"github.com/oxy-go/splat-lod/registry"
)

const (
	maxBisectionIterations = 32
	minFraction            = 0.95
	epsilonDepth           = 1e-4
)

// TreeSource is the read-only view of the Registry the Traverser needs.
type TreeSource interface {
	Tree(id uint64) (*registry.Tree, bool)
}

// Instance is one object's per-frame traversal input.
type Instance struct {
	TreeID       uint64
	ViewToObject [16]float32 // column-major 4x4: camera pose expressed in object space
	LodScale     float32

	BehindFoveate float32
	ConeFov0Deg   float32
	ConeFovDeg    float32
	ConeFoveate   float32
}

// Params are the per-frame global traversal inputs.
type Params struct {
	MaxSplats       uint32
	PixelScaleLimit float32
	LastPixelLimit  float32
	FovY            float32 // radians
	RenderHeight    float32
	RenderScale     float32 // config lod_render_scale; 0 treated as 1
}

// PriorityEntry is one (tree, chunk) the Cache should consider fetching,
// most important first once sorted into a Result.
type PriorityEntry struct {
	TreeID  uint64
	ChunkID uint32
}

// InstanceResult is one instance's selected node set.
type InstanceResult struct {
	TreeID  uint64
	Indices []int
}

// Result is the Traverser's per-frame output.
type Result struct {
	Instances []InstanceResult

	// Priority is the ranked fetch list driven by nodes the cut wanted to
	// select but whose backing chunk was not resident.
	Priority []PriorityEntry

	// FetchPriority is the root-chunk bootstrap extension, ordered by viewer distance.
	FetchPriority []PriorityEntry

	// PixelLimit is the converged τ, returned for next frame's warm start.
	PixelLimit float32
}

type scoredEntry struct {
	entry PriorityEntry
	score float32
}

// Traverse selects a per-instance node cut under params.MaxSplats.
func Traverse(params Params, instances []Instance, trees TreeSource) (Result, error) {
	resolved := make([]*registry.Tree, len(instances))
	camPos := make([]common.Vec3, len(instances))
	forward := make([]common.Vec3, len(instances))

	for i, inst := range instances {
		t, ok := trees.Tree(inst.TreeID)
		if !ok {
			return Result{}, newError(UnknownTree, "traverse", nil)
		}
		if !common.Finite4x4(inst.ViewToObject[:]) {
			return Result{}, newError(DegenerateProjection, "traverse", nil)
		}
		resolved[i] = t
		camPos[i] = common.ColumnVec3(inst.ViewToObject[:], 12)
		zAxis := common.ColumnVec3(inst.ViewToObject[:], 8)
		forward[i] = common.Normalize(common.Vec3{X: -zAxis.X, Y: -zAxis.Y, Z: -zAxis.Z})
	}

	renderScale := params.RenderScale
	if renderScale <= 0 {
		renderScale = 1
	}
	pixelScale := float32(1)
	if params.RenderHeight > 0 {
		pixelScale = 2 * tanHalf(params.FovY) / params.RenderHeight
	}
	pixelScale *= renderScale
	if pixelScale <= 0 {
		pixelScale = 1e-6
	}

	fetchPriority := rootChunkFetchPriority(instances, resolved, camPos)

	lo := params.PixelScaleLimit
	if lo < 0 {
		lo = 0
	}
	hi := params.LastPixelLimit
	if hi <= lo {
		hi = lo + 1e-3
	}

	type evalOut struct {
		perInstance []InstanceResult
		priority    []scoredEntry
		count       uint32
	}
	eval := func(tau float32) evalOut {
		out := evalOut{perInstance: make([]InstanceResult, len(instances))}
		var priority []scoredEntry
		for i, inst := range instances {
			t := resolved[i]
			var indices []int
			if len(t.Nodes) > 0 {
				if !t.IsChunkResident(t.ChunkOf(0)) {
					priority = append(priority, scoredEntry{PriorityEntry{inst.TreeID, t.ChunkOf(0)}, 1e30})
				} else {
					indices, priority = walkTree(t, 0, tau, inst, camPos[i], forward[i], pixelScale, priority)
				}
			}
			out.perInstance[i] = InstanceResult{TreeID: inst.TreeID, Indices: indices}
			out.count += uint32(len(indices))
		}
		out.priority = priority
		return out
	}

	loResult := eval(lo)
	hiResult := eval(hi)
	iterations := 0
	for hiResult.count > params.MaxSplats && iterations < maxBisectionIterations {
		hi *= 2
		hiResult = eval(hi)
		iterations++
	}

	best := hiResult
	bestTau := hi
	if loResult.count <= params.MaxSplats {
		best = loResult
		bestTau = lo
	}

	for iterations < maxBisectionIterations && hi > lo {
		mid := lo + (hi-lo)/2
		midResult := eval(mid)
		iterations++
		if midResult.count <= params.MaxSplats {
			best = midResult
			bestTau = mid
			hi = mid
			minCount := uint32(float32(params.MaxSplats) * minFraction)
			if midResult.count >= minCount {
				break
			}
		} else {
			lo = mid
		}
	}

	return Result{
		Instances:     best.perInstance,
		Priority:      rankPriority(best.priority),
		FetchPriority: fetchPriority,
		PixelLimit:    bestTau,
	}, nil
}

// walkTree performs the single-τ cut descent for one tree, starting at
// idx, appending selected leaf/boundary indices and any chunk-gating
// priority entries it discovers.
func walkTree(t *registry.Tree, idx int, tau float32, inst Instance, camPos, forward common.Vec3, pixelScale float32, priority []scoredEntry) ([]int, []scoredEntry) {
	if idx >= len(t.Nodes) {
		return nil, priority
	}
	node := t.Nodes[idx]
	rScaled := projectedSize(node, inst, camPos, forward, pixelScale)

	if rScaled < tau || node.IsLeaf() {
		return []int{idx}, priority
	}

	allResident := true
	for c := uint32(0); c < uint32(node.ChildCount); c++ {
		childIdx := int(node.ChildStart + c)
		if !t.IsChunkResident(t.ChunkOf(childIdx)) {
			allResident = false
			priority = append(priority, scoredEntry{PriorityEntry{t.ID, t.ChunkOf(childIdx)}, rScaled})
		}
	}
	if !allResident {
		return []int{idx}, priority
	}

	var out []int
	for c := uint32(0); c < uint32(node.ChildCount); c++ {
		var childOut []int
		childOut, priority = walkTree(t, int(node.ChildStart+c), tau, inst, camPos, forward, pixelScale, priority)
		out = append(out, childOut...)
	}
	return out, priority
}

// projectedSize computes r_scaled for one node.
func projectedSize(node registry.Node, inst Instance, camPos, forward common.Vec3, pixelScale float32) float32 {
	toNode := common.Sub(node.Center, camPos)
	depth := common.Dot(toNode, forward)

	var factor float32
	if depth <= epsilonDepth {
		factor = inst.BehindFoveate
		depth = epsilonDepth
	} else {
		dir := common.Normalize(toNode)
		dot := common.Dot(forward, dir)
		factor = foveation(dot, foveationParams{
			behindFoveate: inst.BehindFoveate,
			coneFov0Deg:   inst.ConeFov0Deg,
			coneFovDeg:    inst.ConeFovDeg,
			coneFoveate:   inst.ConeFoveate,
		})
	}

	rProj := (node.Radius * inst.LodScale) / depth * factor
	return rProj / pixelScale
}

// rootChunkFetchPriority builds the root-chunk bootstrap list: every
// instance whose chunk 0 isn't resident yet, ordered by viewer distance.
func rootChunkFetchPriority(instances []Instance, trees []*registry.Tree, camPos []common.Vec3) []PriorityEntry {
	type candidate struct {
		entry    PriorityEntry
		distance float32
	}
	var cands []candidate
	for i, inst := range instances {
		t := trees[i]
		if t.IsChunkResident(0) {
			continue
		}
		dist := common.Length(common.Sub(common.Vec3{}, camPos[i]))
		cands = append(cands, candidate{PriorityEntry{inst.TreeID, 0}, dist})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].distance < cands[j].distance })
	out := make([]PriorityEntry, len(cands))
	for i, c := range cands {
		out[i] = c.entry
	}
	return out
}

func rankPriority(scored []scoredEntry) []PriorityEntry {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	seen := make(map[PriorityEntry]bool, len(scored))
	out := make([]PriorityEntry, 0, len(scored))
	for _, s := range scored {
		if seen[s.entry] {
			continue
		}
		seen[s.entry] = true
		out = append(out, s.entry)
	}
	return out
}

func tanHalf(fovY float32) float32 {
	if fovY <= 0 {
		return 1
	}
	return math32.Tan(fovY / 2)
}
