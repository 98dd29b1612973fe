// Package sparse implements SparseCOO and Dense, the two leaf matrix
// representations of SPEC_FULL §3.
package sparse

import mferrors "github.com/dsgdpp/mf/pkg/errors"

// COO is an immutable coordinate-format sparse matrix: triples
// (Row[p], Col[p], Val[p]) for p in [0, Nnz), sorted by (row, col) when
// RowMajor is true, by (col, row) otherwise. Nnz is fixed after
// construction — there is no in-place insert.
type COO struct {
	M, N     int
	Row      []int32
	Col      []int32
	Val      []float64
	RowMajor bool
}

// NewCOO validates and wraps coordinate arrays of equal length as a COO
// matrix. It neither sorts them nor checks their order; rowMajor is
// recorded as given.
func NewCOO(m, n int, row, col []int32, val []float64, rowMajor bool) (*COO, error) {
	if len(row) != len(col) || len(row) != len(val) {
		return nil, mferrors.NewShapeError("sparse.NewCOO: row/col/val length mismatch", nil)
	}
	for p := range row {
		if int(row[p]) >= m || int(col[p]) >= n || row[p] < 0 || col[p] < 0 {
			return nil, mferrors.NewShapeError("sparse.NewCOO: coordinate out of bounds", nil)
		}
	}
	return &COO{M: m, N: n, Row: row, Col: col, Val: val, RowMajor: rowMajor}, nil
}

// Nnz returns the number of stored nonzeros.
func (c *COO) Nnz() int { return len(c.Val) }

// Nnz12 counts nonzeros per row and per column, and the max over both,
// matching original_source/mf/matrix/op/nnz.h's nnz12: nnz12max is only
// overwritten when the caller passes in 0 (see SPEC_FULL §9, open question
// 3 — the accumulator is always zero-initialised by the caller here).
func (c *COO) Nnz12(nnz12max *int) (nnz1, nnz2 []int) {
	nnz1 = make([]int, c.M)
	nnz2 = make([]int, c.N)
	for p := 0; p < c.Nnz(); p++ {
		nnz1[c.Row[p]]++
		nnz2[c.Col[p]]++
	}
	if *nnz12max == 0 {
		for _, v := range nnz1 {
			if v > *nnz12max {
				*nnz12max = v
			}
		}
		for _, v := range nnz2 {
			if v > *nnz12max {
				*nnz12max = v
			}
		}
	}
	return nnz1, nnz2
}

// Order is the element layout of a Dense matrix.
type Order int

const (
	RowMajor Order = iota
	ColMajor
)

// Dense is a dense m x n matrix of float64s, laid out row-major (typically
// W) or column-major (typically H) per Order, with O(1) element access.
type Dense struct {
	M, N  int
	Order Order
	Data  []float64
}

// NewDense allocates a zeroed Dense matrix.
func NewDense(m, n int, order Order) *Dense {
	return &Dense{M: m, N: n, Order: order, Data: make([]float64, m*n)}
}

func (d *Dense) index(i, j int) int {
	if d.Order == RowMajor {
		return i*d.N + j
	}
	return j*d.M + i
}

// At returns element (i, j).
func (d *Dense) At(i, j int) float64 { return d.Data[d.index(i, j)] }

// Set writes element (i, j).
func (d *Dense) Set(i, j int, v float64) { d.Data[d.index(i, j)] = v }

// Row returns a view (Go slice alias, not a copy) of row i when RowMajor.
// Row only slices contiguous memory, so it is only valid for RowMajor
// matrices; callers needing H's column must use Col.
func (d *Dense) Row(i int) []float64 {
	if d.Order != RowMajor {
		panic("sparse.Dense.Row: matrix is column-major")
	}
	return d.Data[i*d.N : (i+1)*d.N]
}

// Col returns a view of column j when ColMajor.
func (d *Dense) Col(j int) []float64 {
	if d.Order != ColMajor {
		panic("sparse.Dense.Col: matrix is row-major")
	}
	return d.Data[j*d.M : (j+1)*d.M]
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	out := &Dense{M: d.M, N: d.N, Order: d.Order, Data: make([]float64, len(d.Data))}
	copy(out.Data, d.Data)
	return out
}

// FrobeniusNormSquared returns sum of squares of all elements.
func (d *Dense) FrobeniusNormSquared() float64 {
	var s float64
	for _, v := range d.Data {
		s += v * v
	}
	return s
}
