// Package linsolve wraps gonum's least-squares solver for the r x r
// normal-equation systems ALS solves once per row/column of W/H
// (SPEC_FULL §4.11).
package linsolve

import (
	"gonum.org/v1/gonum/mat"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// SolveNormalEquations solves (A^T A + lambda*I) x = A^T b for x, where A
// is the nnz x r design matrix of the observed factor rows for one row of
// V and b is the corresponding observed values — the per-row ALS update.
func SolveNormalEquations(a *mat.Dense, b []float64, lambda float64) ([]float64, error) {
	rows, cols := a.Dims()
	if rows != len(b) {
		return nil, mferrors.NewShapeError("linsolve: a/b row mismatch", nil)
	}
	if rows == 0 {
		return make([]float64, cols), nil
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	for k := 0; k < cols; k++ {
		ata.Set(k, k, ata.At(k, k)+lambda)
	}

	atb := mat.NewVecDense(cols, nil)
	bv := mat.NewVecDense(rows, b)
	atb.MulVec(a.T(), bv)

	var x mat.VecDense
	if err := x.SolveVec(&ata, atb); err != nil {
		return nil, mferrors.NewNumericWarning("linsolve: normal-equation solve failed", err)
	}
	out := make([]float64, cols)
	for k := 0; k < cols; k++ {
		out[k] = x.AtVec(k)
	}
	return out, nil
}

// SolveLeastSquares solves the unregularized least-squares problem
// min ||Ax - b||^2 via QR, used when lambda is zero.
func SolveLeastSquares(a *mat.Dense, b []float64) ([]float64, error) {
	rows, cols := a.Dims()
	if rows == 0 {
		return make([]float64, cols), nil
	}
	bv := mat.NewVecDense(rows, b)
	var x mat.VecDense
	if err := x.SolveVec(a, bv); err != nil {
		return nil, mferrors.NewNumericWarning("linsolve: least-squares solve failed", err)
	}
	out := make([]float64, cols)
	for k := 0; k < cols; k++ {
		out[k] = x.AtVec(k)
	}
	return out, nil
}
