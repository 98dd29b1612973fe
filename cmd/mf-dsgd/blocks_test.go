package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

func TestBlockAssignmentCoversEveryIndexInContiguousRanges(t *testing.T) {
	assign := blockAssignment(7, 3)
	require.Len(t, assign, 7)
	// sizes should be 3,2,2 (7 = 3*2 + 1 extra on the first block)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2, 2}, assign)
}

func TestSplitIntoBlocksPlacesEachEntryInItsOwnBlockWithRebasedCoordinates(t *testing.T) {
	// 4x4 matrix, 2x2 block grid: entries (0,0), (1,1) in block (0,0);
	// (2,2), (3,3) in block (1,1).
	v, err := sparse.NewCOO(4, 4,
		[]int32{0, 1, 2, 3},
		[]int32{0, 1, 2, 3},
		[]float64{1, 2, 3, 4},
		true)
	require.NoError(t, err)

	blocks, rowBlock, colBlock := splitIntoBlocks(v, 2, 2)
	require.Len(t, blocks, 4)
	assert.Equal(t, []int{0, 0, 1, 1}, rowBlock)
	assert.Equal(t, []int{0, 0, 1, 1}, colBlock)

	b00 := blocks[0*2+0]
	require.NotNil(t, b00)
	assert.Equal(t, 2, b00.Nnz())
	for p := 0; p < b00.Nnz(); p++ {
		assert.Less(t, int(b00.Row[p]), b00.M)
		assert.Less(t, int(b00.Col[p]), b00.N)
	}

	b01 := blocks[0*2+1]
	assert.Nil(t, b01)

	b11 := blocks[1*2+1]
	require.NotNil(t, b11)
	assert.Equal(t, 2, b11.Nnz())
}

func TestSliceByBlockGroupsRowsContiguouslyPerBlock(t *testing.T) {
	rows := [][]float64{{0}, {1}, {2}, {3}, {4}}
	assign := []int{0, 0, 1, 1, 1}
	grouped := sliceByBlock(rows, assign, 2)
	require.Len(t, grouped, 2)
	assert.Equal(t, [][]float64{{0}, {1}}, grouped[0])
	assert.Equal(t, [][]float64{{2}, {3}, {4}}, grouped[1])
}
