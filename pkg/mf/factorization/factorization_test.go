package factorization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

func twoByTwo() *sparse.COO {
	return &sparse.COO{M: 2, N: 2, Row: []int32{0, 1}, Col: []int32{0, 1}, Val: []float64{1, 1}}
}

func TestNewComputesNnzBookkeeping(t *testing.T) {
	v := twoByTwo()
	w := [][]float64{{1}, {1}}
	h := [][]float64{{1}, {1}}

	d, err := New(v, w, h)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, d.Nnz1)
	assert.Equal(t, []int{1, 1}, d.Nnz2)
	assert.Equal(t, 1, d.Nnz12Max)
	assert.Equal(t, 1, d.Tasks)
}

func TestCheckConformityRejectsMismatchedRowCount(t *testing.T) {
	v := twoByTwo()
	w := [][]float64{{1}} // only one row, V has two
	h := [][]float64{{1}, {1}}
	assert.Error(t, CheckConformity(v, w, h))
}

func TestCheckConformityRejectsMismatchedRank(t *testing.T) {
	v := twoByTwo()
	w := [][]float64{{1, 1}, {1, 1}}
	h := [][]float64{{1}, {1}}
	assert.Error(t, CheckConformity(v, w, h))
}

func TestCheckConformityRejectsZeroRank(t *testing.T) {
	v := twoByTwo()
	w := [][]float64{{}, {}}
	h := [][]float64{{}, {}}
	assert.Error(t, CheckConformity(v, w, h))
}

func TestNewRunIDProducesDistinctNonEmptyValues(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
