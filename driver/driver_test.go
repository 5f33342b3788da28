package driver

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oxy-go/splat-lod/accumulator"
	"github.com/oxy-go/splat-lod/config"
	"github.com/oxy-go/splat-lod/container"
	"github.com/oxy-go/splat-lod/pagecache"
	"github.com/oxy-go/splat-lod/registry"
	"github.com/oxy-go/splat-lod/sortworker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexWriter struct{}

func (fakeIndexWriter) WriteIndices(objectID uint64, indices []int32) error { return nil }

type fakeGPU struct{}

func (fakeGPU) UploadPage(page uint32, data []byte) error { return nil }

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg, err := config.New(
		config.WithMaxPagedSplats(4),
		config.WithPageSize(4),
		config.WithNumFetchers(1),
		config.WithDisposeTimeout(time.Hour),
	)
	require.NoError(t, err)

	reg := registry.New()
	cache := pagecache.New(cfg, fakeGPU{})
	pool := accumulator.NewPool()
	sw := sortworker.New(0)
	t.Cleanup(sw.Dispose)

	d := New(cfg, reg, cache, pool, sw, nil, fakeIndexWriter{}, nil, nil)
	return d
}

func identityMatrix() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, -5, 1}
}

func TestDriver_GatingSkipsUnchangedEmptyFrame(t *testing.T) {
	d := newTestDriver(t)

	require.NoError(t, d.Frame(nil, nil, 1.0, 720))
	require.NoError(t, d.Frame(nil, nil, 1.0, 720))

	// Both frames should have released their popped accumulator back to
	// free rather than leaving it stranded as "current".
	_, pending := d.Pool.Current()
	assert.False(t, pending)
}

func TestDriver_CreatesTreeOnFirstEncounter(t *testing.T) {
	d := newTestDriver(t)
	d.AutoDrive = false

	obj := ObjectSource{ID: 1, Header: container.Header{}, Reader: nil, Capacity: 16}
	inst := ObjectInstance{ObjectID: 1, ViewToObject: identityMatrix(), LodScale: 1, BehindFoveate: 1, ConeFoveate: 1}

	require.NoError(t, d.Frame([]ObjectSource{obj}, []ObjectInstance{inst}, 1.0, 720))

	treeID, ok := d.objectTrees[1]
	require.True(t, ok)
	_, exists := d.Registry.Tree(treeID)
	assert.True(t, exists)
}

func TestDriver_SharedTreeInstancesPrimary(t *testing.T) {
	d := newTestDriver(t)
	d.AutoDrive = false

	primary := ObjectSource{ID: 1, Capacity: 16}
	shared := ObjectSource{ID: 2, SharedWith: 1}
	instances := []ObjectInstance{
		{ObjectID: 1, ViewToObject: identityMatrix(), LodScale: 1, BehindFoveate: 1, ConeFoveate: 1},
		{ObjectID: 2, ViewToObject: identityMatrix(), LodScale: 1, BehindFoveate: 1, ConeFoveate: 1},
	}

	require.NoError(t, d.Frame([]ObjectSource{primary, shared}, instances, 1.0, 720))

	primaryTree := d.objectTrees[1]
	sharedTree := d.objectTrees[2]
	assert.NotEqual(t, primaryTree, sharedTree)

	tree, ok := d.Registry.Tree(sharedTree)
	require.True(t, ok)
	assert.True(t, tree.Shared)
}

func TestDriver_IdleSweepDisposesOldestTree(t *testing.T) {
	cfg, err := config.New(
		config.WithMaxPagedSplats(4),
		config.WithPageSize(4),
		config.WithNumFetchers(1),
		config.WithDisposeTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	reg := registry.New()
	cache := pagecache.New(cfg, fakeGPU{})
	pool := accumulator.NewPool()
	sw := sortworker.New(0)
	t.Cleanup(sw.Dispose)
	d := New(cfg, reg, cache, pool, sw, nil, fakeIndexWriter{}, nil, nil)
	d.AutoDrive = false

	obj := ObjectSource{ID: 1, Capacity: 16}
	inst := ObjectInstance{ObjectID: 1, ViewToObject: identityMatrix(), LodScale: 1, BehindFoveate: 1, ConeFoveate: 1}
	require.NoError(t, d.Frame([]ObjectSource{obj}, []ObjectInstance{inst}, 1.0, 720))

	treeID := d.objectTrees[1]
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, d.Frame(nil, nil, 1.0, 720))

	_, exists := d.Registry.Tree(treeID)
	assert.False(t, exists)
	_, ok := d.objectTrees[1]
	assert.False(t, ok)
}

type fakeRangeReader struct {
	data []byte
}

func (f *fakeRangeReader) ReadRange(offset int64, length int) ([]byte, error) {
	end := int(offset) + length
	if end > len(f.data) {
		end = len(f.data)
	}
	return f.data[offset:end], nil
}

// buildRootChunk compresses a container chunk 0 payload of the
// {u32 treeBlobLen}{treeBlob}{splatPayload} shape pagecache expects, and
// returns the matching container.Header alongside a reader serving it.
func buildRootChunk(t *testing.T, treeBlob, splatPayload []byte) (container.Header, *fakeRangeReader) {
	t.Helper()
	raw := make([]byte, 4+len(treeBlob)+len(splatPayload))
	raw[0] = byte(len(treeBlob))
	copy(raw[4:], treeBlob)
	copy(raw[4+len(treeBlob):], splatPayload)

	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := encoder.EncodeAll(raw, nil)
	require.NoError(t, encoder.Close())

	checksum := crc32.Checksum(compressed, crc32.MakeTable(crc32.Castagnoli))
	hdr := container.Header{
		TotalSplats: 1,
		Chunks: []container.ChunkDescriptor{
			{ID: 0, Offset: 0, Length: uint32(len(compressed)), Checksum: checksum, SplatCount: 1},
		},
	}
	return hdr, &fakeRangeReader{data: compressed}
}

// TestDriver_PagedObjectBootstrapsRootChunk exercises ensureTree's paged
// path: a container carrying chunk descriptors must have its root chunk
// fetched and ingested into the registry up front, and that same fetch
// must reach the normal promotion pipeline so it lands a GPU page without
// a second fetch.
func TestDriver_PagedObjectBootstrapsRootChunk(t *testing.T) {
	d := newTestDriver(t)
	d.AutoDrive = false

	rootNode := make([]byte, 24) // one zero-valued node record; only its
	// presence and Paged marking matter here, not its field values.
	hdr, reader := buildRootChunk(t, rootNode, []byte{1, 1, 1, 1})

	obj := ObjectSource{ID: 1, Header: hdr, Reader: reader, Capacity: 16}
	inst := ObjectInstance{ObjectID: 1, ViewToObject: identityMatrix(), LodScale: 1, BehindFoveate: 1, ConeFoveate: 1}

	require.NoError(t, d.Frame([]ObjectSource{obj}, []ObjectInstance{inst}, 1.0, 720))

	treeID, ok := d.objectTrees[1]
	require.True(t, ok)

	tree, exists := d.Registry.Tree(treeID)
	require.True(t, exists)
	assert.True(t, tree.Paged)
	require.Len(t, tree.Nodes, 1)

	// The root chunk's fetch was seeded straight into the same driveLod
	// call's drain/promote pass, so it lands a page in the same frame it
	// bootstrapped the tree, without a second fetch over the reader.
	assert.True(t, tree.IsChunkResident(0))
}
