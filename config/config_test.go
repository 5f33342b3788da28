package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultPageSize), c.PageSize)
	assert.Equal(t, uint32(2_500_000/DefaultPageSize), c.PageCount())
	assert.True(t, c.EnableLod)
	assert.True(t, c.EnableDriveLod)
}

func TestNew_RejectsNonMultiplePageSize(t *testing.T) {
	_, err := New(WithMaxPagedSplats(100), WithPageSize(65536))
	require.Error(t, err)
}

func TestNew_RejectsZeroFetchers(t *testing.T) {
	_, err := New(WithNumFetchers(0))
	require.Error(t, err)
}

func TestValidateDocument_RejectsBadShape(t *testing.T) {
	err := validateDocument(map[string]any{
		"page_size": 123, // not in the fixed enum
	})
	require.Error(t, err)
}

func TestValidateDocument_AcceptsGoodShape(t *testing.T) {
	err := validateDocument(map[string]any{
		"max_paged_splats": 2500000,
		"page_size":        65536,
		"num_fetchers":     3,
	})
	require.NoError(t, err)
}
