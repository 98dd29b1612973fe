// Package alternating implements the non-SGD alternating update kernels
// of SPEC_FULL §4.11: ALS (least-squares per row/column), GNMF
// (multiplicative update under squared loss), and Lee-01 GKL
// (multiplicative update under generalized KL divergence).
package alternating

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dsgdpp/mf/pkg/linsolve"
	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

const epsilon = 1e-12

// ALSStep updates every row of w in place by solving the regularized
// normal equations against the nonzero entries of that row of v, holding
// h fixed — one half-iteration of Alternating Least Squares. norm
// selects whether lambda is applied flatly (L2) or weighted by the row's
// nonzero count (Nzl2), mirroring update.NzslL2/NzslNzl2.
func ALSStep(ctx context.Context, v *sparse.COO, w [][]float64, h [][]float64, lambda float64, nzl2 bool) error {
	r := 0
	if len(w) > 0 {
		r = len(w[0])
	}
	byRow := rowEntries(v)
	for i := range w {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		entries := byRow[i]
		if len(entries) == 0 {
			continue
		}
		a := mat.NewDense(len(entries), r, nil)
		b := make([]float64, len(entries))
		for idx, e := range entries {
			copy(a.RawRowView(idx), h[e.col])
			b[idx] = e.val
		}
		lam := lambda
		if nzl2 {
			lam = lambda * float64(len(entries))
		}
		x, err := linsolve.SolveNormalEquations(a, b, lam)
		if err != nil {
			continue // leave w[i] at its previous value rather than NaN it out
		}
		copy(w[i], x)
	}
	return nil
}

type entry struct {
	col int
	val float64
}

func rowEntries(v *sparse.COO) map[int][]entry {
	out := make(map[int][]entry)
	for k := range v.Row {
		i, j, x := int(v.Row[k]), int(v.Col[k]), v.Val[k]
		out[i] = append(out[i], entry{col: j, val: x})
	}
	return out
}

func colEntries(v *sparse.COO) map[int][]entry {
	out := make(map[int][]entry)
	for k := range v.Row {
		i, j, x := int(v.Row[k]), int(v.Col[k]), v.Val[k]
		out[j] = append(out[j], entry{col: i, val: x})
	}
	return out
}

// ALSStepTranspose is ALSStep with the roles of W and H swapped, used for
// the second half of each ALS iteration (solve H given W).
func ALSStepTranspose(ctx context.Context, v *sparse.COO, h [][]float64, w [][]float64, lambda float64, nzl2 bool) error {
	r := 0
	if len(h) > 0 {
		r = len(h[0])
	}
	byCol := colEntries(v)
	for j := range h {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		entries := byCol[j]
		if len(entries) == 0 {
			continue
		}
		a := mat.NewDense(len(entries), r, nil)
		b := make([]float64, len(entries))
		for idx, e := range entries {
			copy(a.RawRowView(idx), w[e.col])
			b[idx] = e.val
		}
		lam := lambda
		if nzl2 {
			lam = lambda * float64(len(entries))
		}
		x, err := linsolve.SolveNormalEquations(a, b, lam)
		if err != nil {
			continue
		}
		copy(h[j], x)
	}
	return nil
}

// RescaleSimple and RescaleOptimal are ALS's own post-iteration balance
// pass (distinct from pkg/mf/balance, which SGD kernels use): ALS rebalances
// by rank-component column norm ratio directly on the dense W/H matrices
// it already holds in full, without going through the distributed nnz
// bookkeeping pkg/mf/balance needs for DSGD's sharded factors.
func RescaleSimple(w, h [][]float64) {
	if len(w) == 0 || len(h) == 0 {
		return
	}
	var wSum, hSum float64
	for _, row := range w {
		for _, v := range row {
			wSum += v * v
		}
	}
	for _, row := range h {
		for _, v := range row {
			hSum += v * v
		}
	}
	if wSum == 0 || hSum == 0 {
		return
	}
	f := math.Sqrt(math.Sqrt(hSum / wSum))
	for i := range w {
		for k := range w[i] {
			w[i][k] *= f
		}
	}
	for j := range h {
		for k := range h[j] {
			h[j][k] /= f
		}
	}
}

func RescaleOptimal(w, h [][]float64) {
	if len(w) == 0 || len(h) == 0 {
		return
	}
	r := len(w[0])
	for k := 0; k < r; k++ {
		var wSum, hSum float64
		for _, row := range w {
			wSum += row[k] * row[k]
		}
		for _, row := range h {
			hSum += row[k] * row[k]
		}
		if wSum == 0 || hSum == 0 {
			continue
		}
		f := math.Sqrt(math.Sqrt(hSum / wSum))
		for i := range w {
			w[i][k] *= f
		}
		for j := range h {
			h[j][k] /= f
		}
	}
}

// GNMFStep applies one multiplicative update to w under squared loss:
// w_ik *= (V H^T)_ik / (W H H^T)_ik, the standard Lee-Seung NMF rule.
func GNMFStep(v *sparse.COO, w, h [][]float64) {
	r := 0
	if len(w) > 0 {
		r = len(w[0])
	}
	numer := make([][]float64, len(w))
	denom := make([][]float64, len(w))
	for i := range w {
		numer[i] = make([]float64, r)
		denom[i] = make([]float64, r)
	}
	for k := range v.Row {
		i, j, x := v.Row[k], v.Col[k], v.Val[k]
		for kk := 0; kk < r; kk++ {
			numer[i][kk] += x * h[j][kk]
		}
	}
	hth := gramRows(h, r)
	for i := range w {
		for kk := 0; kk < r; kk++ {
			var d float64
			for kkk := 0; kkk < r; kkk++ {
				d += w[i][kkk] * hth[kkk][kk]
			}
			denom[i][kk] = d
		}
	}
	for i := range w {
		for kk := 0; kk < r; kk++ {
			w[i][kk] *= numer[i][kk] / (denom[i][kk] + epsilon)
		}
	}
}

// GNMFStepTranspose is GNMFStep with W and H's roles swapped.
func GNMFStepTranspose(v *sparse.COO, h, w [][]float64) {
	r := 0
	if len(h) > 0 {
		r = len(h[0])
	}
	numer := make([][]float64, len(h))
	denom := make([][]float64, len(h))
	for j := range h {
		numer[j] = make([]float64, r)
		denom[j] = make([]float64, r)
	}
	for k := range v.Row {
		i, j, x := v.Row[k], v.Col[k], v.Val[k]
		for kk := 0; kk < r; kk++ {
			numer[j][kk] += x * w[i][kk]
		}
	}
	wtw := gramRows(w, r)
	for j := range h {
		for kk := 0; kk < r; kk++ {
			var d float64
			for kkk := 0; kkk < r; kkk++ {
				d += h[j][kkk] * wtw[kkk][kk]
			}
			denom[j][kk] = d
		}
	}
	for j := range h {
		for kk := 0; kk < r; kk++ {
			h[j][kk] *= numer[j][kk] / (denom[j][kk] + epsilon)
		}
	}
}

func gramRows(m [][]float64, r int) [][]float64 {
	g := make([][]float64, r)
	for i := range g {
		g[i] = make([]float64, r)
	}
	for _, row := range m {
		for a := 0; a < r; a++ {
			for b := 0; b < r; b++ {
				g[a][b] += row[a] * row[b]
			}
		}
	}
	return g
}

// Lee01GklStep applies the Lee & Seung (2001) multiplicative update under
// generalized KL divergence: w_ik *= sum_j (H_jk * V_ij / (WH)_ij) / sum_j H_jk.
func Lee01GklStep(v *sparse.COO, w, h [][]float64) {
	r := 0
	if len(w) > 0 {
		r = len(w[0])
	}
	numer := make([][]float64, len(w))
	for i := range numer {
		numer[i] = make([]float64, r)
	}
	hColSum := make([]float64, r)
	for _, row := range h {
		for kk := 0; kk < r; kk++ {
			hColSum[kk] += row[kk]
		}
	}
	for k := range v.Row {
		i, j, x := v.Row[k], v.Col[k], v.Val[k]
		var pred float64
		for kk := 0; kk < r; kk++ {
			pred += w[i][kk] * h[j][kk]
		}
		if pred <= 0 {
			continue
		}
		ratio := x / pred
		for kk := 0; kk < r; kk++ {
			numer[i][kk] += h[j][kk] * ratio
		}
	}
	for i := range w {
		for kk := 0; kk < r; kk++ {
			if hColSum[kk] > 0 {
				w[i][kk] *= numer[i][kk] / hColSum[kk]
			}
		}
	}
}

// Lee01GklStepTranspose is Lee01GklStep with W and H's roles swapped.
func Lee01GklStepTranspose(v *sparse.COO, h, w [][]float64) {
	r := 0
	if len(h) > 0 {
		r = len(h[0])
	}
	numer := make([][]float64, len(h))
	for j := range numer {
		numer[j] = make([]float64, r)
	}
	wColSum := make([]float64, r)
	for _, row := range w {
		for kk := 0; kk < r; kk++ {
			wColSum[kk] += row[kk]
		}
	}
	for k := range v.Row {
		i, j, x := v.Row[k], v.Col[k], v.Val[k]
		var pred float64
		for kk := 0; kk < r; kk++ {
			pred += w[i][kk] * h[j][kk]
		}
		if pred <= 0 {
			continue
		}
		ratio := x / pred
		for kk := 0; kk < r; kk++ {
			numer[j][kk] += w[i][kk] * ratio
		}
	}
	for j := range h {
		for kk := 0; kk < r; kk++ {
			if wColSum[kk] > 0 {
				h[j][kk] *= numer[j][kk] / wColSum[kk]
			}
		}
	}
}
