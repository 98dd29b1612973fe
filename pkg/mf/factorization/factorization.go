// Package factorization implements Data, the shape-checked bundle every
// kernel (SGD, ALS, GNMF, Lee-01 GKL) is validated against before training
// starts: V, the row- and column-sparse nonzero counts derived from it, and
// the W/H factors it is being fit against.
package factorization

import (
	"github.com/google/uuid"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

// CheckConformity validates that V, W, H have compatible shapes, raising a
// ShapeError before the first epoch runs rather than letting the kernels
// index out of bounds partway through training.
func CheckConformity(v *sparse.COO, w, h [][]float64) error {
	if v == nil || w == nil || h == nil {
		return mferrors.NewShapeError("factorization: nil matrix", nil)
	}
	if v.M != len(w) {
		return mferrors.NewShapeError("factorization: V.M != len(W)", nil)
	}
	if v.N != len(h) {
		return mferrors.NewShapeError("factorization: V.N != len(H)", nil)
	}
	if len(w) > 0 && len(h) > 0 && len(w[0]) != len(h[0]) {
		return mferrors.NewShapeError("factorization: W rank != H rank", nil)
	}
	if len(w) > 0 && len(w[0]) == 0 {
		return mferrors.NewShapeError("factorization: rank must be > 0", nil)
	}
	return nil
}

// Data bundles one run's V, W, H and the nonzero-count bookkeeping every
// update/regularize functor and loss needs: Nnz1[i] = |{p : row[p]=i}|,
// Nnz2[j] = |{p : col[p]=j}|, Nnz12Max = max(max_i Nnz1[i], max_j Nnz2[j]).
//
// WorkingHName, when non-empty, names a separately stored working copy of
// H (ASGD's "hWork" snapshot). The field is carried here only; no loss
// evaluation in this module reads it.
type Data struct {
	V *sparse.COO
	W [][]float64
	H [][]float64

	Nnz1     []int
	Nnz2     []int
	Nnz12Max int
	Tasks    int // PSGD thread count

	WorkingHName string
}

// New builds a Data that computes its own Nnz1/Nnz2/Nnz12Max from V, after
// confirming V, W and H conform.
func New(v *sparse.COO, w, h [][]float64) (*Data, error) {
	if err := CheckConformity(v, w, h); err != nil {
		return nil, err
	}
	var max int
	nnz1, nnz2 := v.Nnz12(&max)
	return &Data{V: v, W: w, H: h, Nnz1: nnz1, Nnz2: nnz2, Nnz12Max: max, Tasks: 1}, nil
}

// RunID correlates a run's log lines, trace entries, metrics labels and
// span attributes across every participating node.
type RunID string

// NewRunID mints a fresh RunID. Every rank participating in one training
// run is started with the same value (passed down from whatever launched
// the job), so this is only called once, by the rank that originates a
// run rather than joins one already in progress.
func NewRunID() RunID { return RunID(uuid.New().String()) }
