package traverser

import (
	"math"
	"testing"

	"github.com/oxy-go/splat-lod/common"
	"github.com/oxy-go/splat-lod/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityLookingForwardAt(distance float32) [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, -1, 0,
		0, 0, -distance, 1,
	}
}

func buildBinaryTestTree(t *testing.T) (*registry.Registry, uint64) {
	t.Helper()
	r := registry.New()
	id, err := r.NewTree(16)
	require.NoError(t, err)

	nodes := []registry.Node{
		{Radius: 100, Parent: -1, ChildStart: 1, ChildCount: 2}, // 0: root
		{Radius: 10, Parent: 0, ChildStart: 3, ChildCount: 4},   // 1: level-1 a
		{Radius: 10, Parent: 0, ChildStart: 7, ChildCount: 4},   // 2: level-1 b
	}
	for i := 0; i < 4; i++ {
		nodes = append(nodes, registry.Node{Radius: 1, Parent: 1})
	}
	for i := 0; i < 4; i++ {
		nodes = append(nodes, registry.Node{Radius: 1, Parent: 2})
	}

	var blob []byte
	for _, n := range nodes {
		blob = append(blob, encodeTestNode(n)...)
	}
	require.NoError(t, r.UpdateTrees([]registry.UpdateRange{
		{TreeID: id, Count: uint32(len(nodes)), Blob: blob},
	}))
	return r, id
}

// encodeTestNode mirrors registry's private blob layout (24-byte records)
// so this test can build a tree payload without reaching into the package.
func encodeTestNode(n registry.Node) []byte {
	b := make([]byte, 24)
	// center all zero; radius at bytes 6:8 as float16.
	h := common.Float32ToHalf(n.Radius)
	b[6] = byte(h)
	b[7] = byte(h >> 8)
	putU32(b[8:12], n.ChildStart)
	putU16(b[12:14], n.ChildCount)
	putU32(b[14:18], uint32(int32(n.Parent)))
	return b
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func TestTraverse_S1_SelectsLevelOneNodesOnly(t *testing.T) {
	r, id := buildBinaryTestTree(t)

	instances := []Instance{
		{TreeID: id, ViewToObject: identityLookingForwardAt(10), LodScale: 1, ConeFov0Deg: 360, ConeFovDeg: 360, ConeFoveate: 1, BehindFoveate: 1},
	}
	params := Params{
		MaxSplats:      2,
		LastPixelLimit: 5,
		FovY:           float32(math.Pi / 2),
		RenderHeight:   2,
	}

	result, err := Traverse(params, instances, r)
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
	assert.ElementsMatch(t, []int{1, 2}, result.Instances[0].Indices)
}

func TestTraverse_S3_UnresidentRootContributesNothing(t *testing.T) {
	r := registry.New()
	idA, err := r.NewTree(16)
	require.NoError(t, err)
	require.NoError(t, r.UpdateTrees([]registry.UpdateRange{
		{TreeID: idA, PageBase: 0, Count: 1, Blob: encodeTestNode(registry.Node{Radius: 5})},
	}))

	idB, err := r.NewSharedTree(idA)
	require.NoError(t, err)
	_ = idB

	// B is its own paged tree whose root chunk was never promoted: chunk 0
	// is unresident.
	idBSolo, err := r.InitTree(16, encodeTestNode(registry.Node{Radius: 5}))
	require.NoError(t, err)

	instances := []Instance{
		{TreeID: idA, ViewToObject: identityLookingForwardAt(10), LodScale: 1, ConeFov0Deg: 360, ConeFovDeg: 360, ConeFoveate: 1, BehindFoveate: 1},
		{TreeID: idBSolo, ViewToObject: identityLookingForwardAt(10), LodScale: 1, ConeFov0Deg: 360, ConeFovDeg: 360, ConeFoveate: 1, BehindFoveate: 1},
	}
	params := Params{
		MaxSplats:      10,
		LastPixelLimit: 1,
		FovY:           float32(math.Pi / 2),
		RenderHeight:   2,
	}

	result, err := Traverse(params, instances, r)
	require.NoError(t, err)
	require.Len(t, result.Instances, 2)
	assert.Empty(t, result.Instances[1].Indices)
}
