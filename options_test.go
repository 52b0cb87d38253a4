package hnsw_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hnsw "github.com/calvinalkan/hnswindex"
	"github.com/calvinalkan/hnswindex/space"
)

func Test_ParseOptionsJSON_Accepts_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	doc := []byte(`{
		// geometry
		"dim": 128,
		"space": "cosine",
		"capacity": 10000,
		"m": 32,
		"ef_construction": 400,
		"ef_search": 100,
		"seed": 47,
		/* policy */
		"allow_replace_deleted": true,
		"store_original": true,
		"persistent": true,
		"path": "/var/lib/idx",
	}`)

	opts, err := hnsw.ParseOptionsJSON(doc)
	require.NoError(t, err)

	assert.Equal(t, 128, opts.Dim)
	assert.Equal(t, space.InnerProduct, opts.Space)
	assert.Equal(t, uint32(10000), opts.Capacity)
	assert.Equal(t, 32, opts.M)
	assert.Equal(t, 400, opts.EfConstruction)
	assert.Equal(t, 100, opts.EfSearch)
	assert.Equal(t, uint64(47), opts.Seed)
	assert.True(t, opts.AllowReplaceDeleted)
	assert.True(t, opts.StoreOriginal)
	assert.Equal(t, hnsw.Persistent, opts.Mode)
	assert.Equal(t, "/var/lib/idx", opts.Path)
}

func Test_ParseOptionsJSON_Defaults_Space_To_L2(t *testing.T) {
	t.Parallel()

	opts, err := hnsw.ParseOptionsJSON([]byte(`{"dim": 4, "capacity": 10}`))
	require.NoError(t, err)

	assert.Equal(t, space.L2, opts.Space)
	assert.Equal(t, hnsw.InMemory, opts.Mode)
}

func Test_ParseOptionsJSON_Rejects_Unknown_Space(t *testing.T) {
	t.Parallel()

	_, err := hnsw.ParseOptionsJSON([]byte(`{"dim": 4, "space": "hamming"}`))
	require.ErrorIs(t, err, hnsw.ErrInvalidArgument)
}

func Test_ParseOptionsJSON_Rejects_Malformed_Document(t *testing.T) {
	t.Parallel()

	_, err := hnsw.ParseOptionsJSON([]byte(`{"dim": `))
	require.ErrorIs(t, err, hnsw.ErrInvalidArgument)
}

func Test_Parsed_Options_Construct_A_Working_Index(t *testing.T) {
	t.Parallel()

	opts, err := hnsw.ParseOptionsJSON([]byte(`{
		"dim": 4,
		"space": "l2",
		"capacity": 8,
		"m": 16,
		"ef_construction": 64,
	}`))
	require.NoError(t, err)

	idx, err := hnsw.New[float32](opts)
	require.NoError(t, err)

	require.NoError(t, idx.Add([]float32{1, 2, 3, 4}, 1, false))

	labels, _, err := idx.Knn([]float32{1, 2, 3, 4}, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, labels)
}
