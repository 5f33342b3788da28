package engine

import (
	"testing"

	"github.com/oxy-go/splat-lod/config"
	"github.com/oxy-go/splat-lod/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGPU struct{}

func (fakeGPU) UploadPage(page uint32, data []byte) error { return nil }

type fakeIndexWriter struct{}

func (fakeIndexWriter) WriteIndices(objectID uint64, indices []int32) error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.New(config.WithMaxPagedSplats(4), config.WithPageSize(4), config.WithNumFetchers(1))
	require.NoError(t, err)
	return cfg
}

func TestNew_RunsAnEmptyFrame(t *testing.T) {
	e := New(testConfig(t), fakeGPU{}, fakeIndexWriter{}, nil, nil)
	defer e.Close()

	err := e.Frame(nil, nil, 1.0, 720)
	require.NoError(t, err)
	assert.NotNil(t, e.Driver())
}

func TestOverride_SetAndClear(t *testing.T) {
	e := New(testConfig(t), fakeGPU{}, fakeIndexWriter{}, nil, nil)
	defer e.Close()

	assert.Nil(t, Override())

	SetOverride(e)
	assert.Same(t, e, Override())

	ClearOverride()
	assert.Nil(t, Override())
}

func TestNew_CreatesObjectTreeThroughEngine(t *testing.T) {
	e := New(testConfig(t), fakeGPU{}, fakeIndexWriter{}, nil, nil)
	defer e.Close()

	obj := driver.ObjectSource{ID: 1, Capacity: 8}
	inst := driver.ObjectInstance{
		ObjectID:      1,
		ViewToObject:  [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, -5, 1},
		LodScale:      1,
		BehindFoveate: 1,
		ConeFoveate:   1,
	}
	e.Driver().AutoDrive = false

	require.NoError(t, e.Frame([]driver.ObjectSource{obj}, []driver.ObjectInstance{inst}, 1.0, 720))
}
