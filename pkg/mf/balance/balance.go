// Package balance implements the post-epoch W/H rescaling of
// SPEC_FULL §4.12: Simple (one global factor) vs Optimal (one factor per
// rank-dimension), and L2 vs Nzl2 norm weighting. Where a norm is zero no
// factor is applied and the affected entries are left unscaled; no
// dimension is collapsed to zero.
package balance

import "math"

// Method selects the granularity of the rescaling factor.
type Method int

const (
	// Simple computes a single global factor applied uniformly to every
	// row of W and column of H.
	Simple Method = iota
	// Optimal computes one factor per rank component k, scaling column k
	// of W by it and row k of H by its inverse, so each pair's norms end
	// up exactly equal.
	Optimal
)

// Norm selects whether rows/columns are weighted by a flat L2 norm or by
// a nonzero-count-weighted Nzl2 norm (matching the corresponding update
// functor's regularizer).
type Norm int

const (
	L2 Norm = iota
	Nzl2
)

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 1
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 1
	}
	return r
}

func rowNorm(norm Norm, row []float64, nnz int) float64 {
	var s float64
	for _, v := range row {
		s += v * v
	}
	switch norm {
	case Nzl2:
		if nnz > 0 {
			return math.Sqrt(s / float64(nnz))
		}
		return 0
	default:
		return math.Sqrt(s)
	}
}

// ApplySimple rescales every row of w by a single global factor f and
// every row of h by 1/f, where f is chosen so that the average per-row
// norm of w and that of h (each row measured by rowNorm) become equal.
func ApplySimple(w [][]float64, h [][]float64, norm Norm, nnz1, nnz2 []int) {
	var wNormSum, hNormSum float64
	for i, row := range w {
		n := 0
		if nnz1 != nil {
			n = nnz1[i]
		}
		wNormSum += rowNorm(norm, row, n)
	}
	for j := range h {
		n := 0
		if nnz2 != nil {
			n = nnz2[j]
		}
		hNormSum += rowNorm(norm, h[j], n)
	}
	if len(w) == 0 || len(h) == 0 {
		return
	}
	wAvg := wNormSum / float64(len(w))
	hAvg := hNormSum / float64(len(h))
	if wAvg == 0 || hAvg == 0 {
		return
	}
	f := math.Sqrt(safeRatio(hAvg, wAvg))
	for i := range w {
		for k := range w[i] {
			w[i][k] *= f
		}
	}
	invF := safeRatio(1, f)
	for j := range h {
		for k := range h[j] {
			h[j][k] *= invF
		}
	}
}

// ApplyOptimal rescales each row i of w and the matching "column role" it
// plays (here h is laid out as H stored row-major by r, so the factor
// that multiplies w[i] is 1/factor for every column of h sharing w[i]'s
// rank-dimension index k — concretely, ApplyOptimal computes one factor
// per rank component k and rescales column k of every w-row and row k of
// every h-row inversely, which is the per-rank-dimension generalisation
// of Simple). The factor makes the L2 (or Nzl2-weighted) norm of W's
// column k equal to that of H's row k; a component whose W or H norm is
// zero is left unscaled.
func ApplyOptimal(w [][]float64, h [][]float64, norm Norm, nnz1, nnz2 []int) {
	if len(w) == 0 || len(h) == 0 {
		return
	}
	r := len(w[0])
	for k := 0; k < r; k++ {
		var wSum, hSum float64
		for i, row := range w {
			n := 0
			if nnz1 != nil {
				n = nnz1[i]
			}
			nv := rowNorm(norm, []float64{row[k]}, n)
			wSum += nv * nv
		}
		for j, row := range h {
			n := 0
			if nnz2 != nil {
				n = nnz2[j]
			}
			nv := rowNorm(norm, []float64{row[k]}, n)
			hSum += nv * nv
		}
		if wSum == 0 || hSum == 0 {
			continue
		}
		// wSum and hSum are squared norms, so the fourth root equalises
		// the norms themselves.
		f := math.Sqrt(math.Sqrt(safeRatio(hSum, wSum)))
		invF := safeRatio(1, f)
		for i := range w {
			w[i][k] *= f
		}
		for j := range h {
			h[j][k] *= invF
		}
	}
}

// Apply dispatches to ApplySimple or ApplyOptimal per method.
func Apply(method Method, w, h [][]float64, norm Norm, nnz1, nnz2 []int) {
	switch method {
	case Optimal:
		ApplyOptimal(w, h, norm, nnz1, nnz2)
	default:
		ApplySimple(w, h, norm, nnz1, nnz2)
	}
}
