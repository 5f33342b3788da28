package accumulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	writes map[uint64][]int32
}

func newFakeWriter() *fakeWriter { return &fakeWriter{writes: make(map[uint64][]int32)} }

func (f *fakeWriter) WriteIndices(objectID uint64, indices []int32) error {
	f.writes[objectID] = append([]int32(nil), indices...)
	return nil
}

func TestPool_StartsWithOneDisplayedTwoFree(t *testing.T) {
	p := NewPool()
	assert.NotNil(t, p.Displayed())
	_, pending := p.Current()
	assert.False(t, pending)

	a, ok := p.PopFree()
	require.True(t, ok)
	b, ok := p.PopFree()
	require.True(t, ok)
	assert.NotSame(t, a, b)

	_, ok = p.PopFree()
	assert.False(t, ok)
}

func TestAccumulator_SameMappingVersionReusesSort(t *testing.T) {
	p := NewPool()
	writer := newFakeWriter()

	objects := []ObjectIndices{{TreeID: 1, Indices: []int32{3, 1, 2}}}

	acc1, _ := p.PopFree()
	v1, gen1 := acc1.Prepare(p.NextVersion(), objects, writer)
	require.NoError(t, gen1())
	p.SwapDisplayed(acc1)
	assert.Equal(t, v1, p.Displayed().MappingVersion)

	acc2, _ := p.PopFree()
	v2, gen2 := acc2.Prepare(p.NextVersion(), objects, writer)
	require.NoError(t, gen2())

	assert.Equal(t, v1, v2, "identical composition must hash to the same mapping version")
}

func TestAccumulator_DifferentIndicesChangeMappingVersion(t *testing.T) {
	p := NewPool()
	writer := newFakeWriter()

	acc1, _ := p.PopFree()
	v1, gen1 := acc1.Prepare(p.NextVersion(), []ObjectIndices{{TreeID: 1, Indices: []int32{1, 2}}}, writer)
	require.NoError(t, gen1())

	acc2, _ := p.PopFree()
	v2, gen2 := acc2.Prepare(p.NextVersion(), []ObjectIndices{{TreeID: 1, Indices: []int32{1, 2, 3}}}, writer)
	require.NoError(t, gen2())

	assert.NotEqual(t, v1, v2)
}

func TestPool_SetCurrentThenPromote(t *testing.T) {
	p := NewPool()
	writer := newFakeWriter()
	displayedBefore := p.Displayed()

	acc, _ := p.PopFree()
	_, gen := acc.Prepare(p.NextVersion(), []ObjectIndices{{TreeID: 1, Indices: []int32{1}}}, writer)
	require.NoError(t, gen())

	p.SetCurrent(acc)
	current, pending := p.Current()
	require.True(t, pending)
	assert.Same(t, acc, current)
	assert.Same(t, displayedBefore, p.Displayed())

	p.PromoteCurrent()
	assert.Same(t, acc, p.Displayed())
	_, pending = p.Current()
	assert.False(t, pending)

	// The old displayed accumulator must have returned to free.
	freed, ok := p.PopFree()
	assert.True(t, ok)
	assert.Same(t, displayedBefore, freed)
}

func TestPool_SecondSetCurrentQueuesRatherThanDiscards(t *testing.T) {
	p := NewPool()
	writer := newFakeWriter()

	accA, ok := p.PopFree()
	require.True(t, ok)
	_, genA := accA.Prepare(p.NextVersion(), []ObjectIndices{{TreeID: 1, Indices: []int32{1}}}, writer)
	require.NoError(t, genA())
	p.SetCurrent(accA)

	// A second composition lands before accA's sort has begun (e.g.
	// coalesced behind MinSortInterval): it must queue, not supersede.
	accB, ok := p.PopFree()
	require.True(t, ok)
	_, genB := accB.Prepare(p.NextVersion(), []ObjectIndices{{TreeID: 1, Indices: []int32{1, 2}}}, writer)
	require.NoError(t, genB())
	p.SetCurrent(accB)

	// With both current and queued occupied, no further composition work
	// can be accepted until one of them is promoted.
	_, ok = p.PopFree()
	assert.False(t, ok)

	current, pending := p.Current()
	require.True(t, pending)
	assert.Same(t, accA, current, "accA's sort was never superseded while pending")

	// accA's sort lands: accB (queued) becomes the new current immediately,
	// still intact, ready for its own sort.
	p.PromoteCurrent()
	assert.Same(t, accA, p.Displayed())
	current, pending = p.Current()
	require.True(t, pending)
	assert.Same(t, accB, current, "queued composition must be promoted to current, never dropped")

	p.PromoteCurrent()
	assert.Same(t, accB, p.Displayed())
	_, pending = p.Current()
	assert.False(t, pending)
}

func TestAccumulator_GenerateWritesEveryObject(t *testing.T) {
	p := NewPool()
	writer := newFakeWriter()
	acc, _ := p.PopFree()

	objects := []ObjectIndices{
		{TreeID: 1, Indices: []int32{1, 2}},
		{TreeID: 2, Indices: []int32{5}},
	}
	_, gen := acc.Prepare(p.NextVersion(), objects, writer)
	require.NoError(t, gen())

	assert.EqualValues(t, 3, acc.Active)
	assert.Equal(t, []int32{1, 2}, writer.writes[1])
	assert.Equal(t, []int32{5}, writer.writes[2])
}
