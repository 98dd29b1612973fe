package main

import (
	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

// blockAssignment maps every row/column to a block-row/block-column index,
// splitting [0, n) into d as-equal-as-possible contiguous ranges.
func blockAssignment(n, d int) []int {
	assign := make([]int, n)
	base := n / d
	extra := n % d
	start := 0
	for b := 0; b < d; b++ {
		size := base
		if b < extra {
			size++
		}
		for i := start; i < start+size; i++ {
			assign[i] = b
		}
		start += size
	}
	return assign
}

// splitIntoBlocks partitions v into a d1*d2 grid of block-local COO
// matrices, re-basing each entry's row/col to its block's own coordinate
// space, ready for sgd.RunDsgdEpoch.
func splitIntoBlocks(v *sparse.COO, d1, d2 int) ([]*sparse.COO, []int, []int) {
	rowBlock := blockAssignment(v.M, d1)
	colBlock := blockAssignment(v.N, d2)

	rowOffset := make([]int32, v.M)
	colOffset := make([]int32, v.N)
	for i, b := range rowBlock {
		rowOffset[i] = int32(i) - firstRowOf(rowBlock, b)
	}
	for j, b := range colBlock {
		colOffset[j] = int32(j) - firstRowOf(colBlock, b)
	}

	type bucket struct{ row, col []int32; val []float64 }
	buckets := make([]bucket, d1*d2)
	for p := 0; p < v.Nnz(); p++ {
		i, j := int(v.Row[p]), int(v.Col[p])
		b1, b2 := rowBlock[i], colBlock[j]
		idx := b1*d2 + b2
		buckets[idx].row = append(buckets[idx].row, rowOffset[i])
		buckets[idx].col = append(buckets[idx].col, colOffset[j])
		buckets[idx].val = append(buckets[idx].val, v.Val[p])
	}

	rowsPerBlock := blockSizes(rowBlock, d1)
	colsPerBlock := blockSizes(colBlock, d2)

	blocks := make([]*sparse.COO, d1*d2)
	for b1 := 0; b1 < d1; b1++ {
		for b2 := 0; b2 < d2; b2++ {
			idx := b1*d2 + b2
			bk := buckets[idx]
			if len(bk.row) == 0 {
				continue
			}
			coo, err := sparse.NewCOO(rowsPerBlock[b1], colsPerBlock[b2], bk.row, bk.col, bk.val, true)
			if err != nil {
				continue // an empty/degenerate block is skipped by RunDsgdEpoch anyway
			}
			blocks[idx] = coo
		}
	}
	return blocks, rowBlock, colBlock
}

func firstRowOf(assign []int, b int) int32 {
	for i, v := range assign {
		if v == b {
			return int32(i)
		}
	}
	return 0
}

func blockSizes(assign []int, d int) []int {
	sizes := make([]int, d)
	for _, b := range assign {
		sizes[b]++
	}
	return sizes
}

// sliceByBlock groups the rows of x (indexed globally) into d1 per-block
// slices according to assign, in the same order splitIntoBlocks expects.
func sliceByBlock(x [][]float64, assign []int, d int) [][][]float64 {
	out := make([][][]float64, d)
	for i, b := range assign {
		out[b] = append(out[b], x[i])
	}
	return out
}
