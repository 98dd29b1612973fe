package matrixio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

func TestWriteThenReadMatrixMarketRoundTrips(t *testing.T) {
	v, err := sparse.NewCOO(3, 2, []int32{0, 1, 2}, []int32{1, 0, 1}, []float64{1.5, -2.25, 3}, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMatrixMarket(&buf, v))

	got, err := ReadMatrixMarket(&buf)
	require.NoError(t, err)
	assert.Equal(t, v.M, got.M)
	assert.Equal(t, v.N, got.N)
	assert.Equal(t, v.Row, got.Row)
	assert.Equal(t, v.Col, got.Col)
	assert.InDeltaSlice(t, v.Val, got.Val, 1e-12)
}

func TestReadMatrixMarketSkipsCommentsAndBlankLines(t *testing.T) {
	input := "%%MatrixMarket matrix coordinate real general\n" +
		"% a comment\n\n" +
		"2 2 1\n" +
		"1 1 5\n"
	v, err := ReadMatrixMarket(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, v.Nnz())
	assert.Equal(t, int32(0), v.Row[0])
	assert.Equal(t, int32(0), v.Col[0])
	assert.Equal(t, 5.0, v.Val[0])
}

func TestReadMatrixMarketMissingHeaderFails(t *testing.T) {
	_, err := ReadMatrixMarket(strings.NewReader("%%MatrixMarket matrix coordinate real general\n"))
	assert.Error(t, err)
}

func TestReadMatrixMarketMalformedEntryFails(t *testing.T) {
	input := "%%MatrixMarket matrix coordinate real general\n2 2 1\n1 1\n"
	_, err := ReadMatrixMarket(strings.NewReader(input))
	assert.Error(t, err)
}

func TestGenerateRandomCOOProducesExactNnzWithinBounds(t *testing.T) {
	d := RandomMatrixDescriptor{M: 10, N: 10, Nnz: 20, Seed: 7, Min: -1, Max: 1}
	v, err := GenerateRandomCOO(d)
	require.NoError(t, err)
	assert.Equal(t, 20, v.Nnz())
	for p := 0; p < v.Nnz(); p++ {
		assert.GreaterOrEqual(t, v.Val[p], -1.0)
		assert.LessOrEqual(t, v.Val[p], 1.0)
		assert.Less(t, int(v.Row[p]), 10)
		assert.Less(t, int(v.Col[p]), 10)
	}
}

func TestGenerateRandomCOOLowRankGroundTruth(t *testing.T) {
	d := RandomMatrixDescriptor{M: 5, N: 5, Nnz: 10, Rank: 2, Seed: 3}
	v, err := GenerateRandomCOO(d)
	require.NoError(t, err)
	assert.Equal(t, 10, v.Nnz())
}

func TestGenerateRandomCOORejectsNnzExceedingCapacity(t *testing.T) {
	d := RandomMatrixDescriptor{M: 2, N: 2, Nnz: 5, Seed: 1}
	_, err := GenerateRandomCOO(d)
	assert.Error(t, err)
}

func TestGenerateRandomCOOIsReproducibleGivenSeed(t *testing.T) {
	d := RandomMatrixDescriptor{M: 6, N: 6, Nnz: 8, Seed: 99, Min: 0, Max: 1}
	a, err := GenerateRandomCOO(d)
	require.NoError(t, err)
	b, err := GenerateRandomCOO(d)
	require.NoError(t, err)
	assert.Equal(t, a.Row, b.Row)
	assert.Equal(t, a.Col, b.Col)
	assert.Equal(t, a.Val, b.Val)
}
