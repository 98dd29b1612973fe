// Package update implements the SGD update/regularize functors of
// SPEC_FULL §4.7: Nzsl, NzslL2, NzslNzl2, BiasedNzslNzl2, Sl, Gkl, Gnmf,
// and the UpdateAbs/UpdateTruncate/UpdateLock composing wrappers.
package update

import (
	"math"
	"sync"
)

// Row is a mutable view into one row of W (length r) or one column of H
// (length r, materialised contiguously by the caller regardless of H's
// storage order).
type Row = []float64

// Functor is the contract every update implementation satisfies:
// Apply mutates wRow and hCol in place given the observed value x at
// (i, j) and the current step size eps. RescaleStratumStepsize reports
// whether this functor opts into eps/d instead of eps for its regularizer
// term (SPEC_FULL §4.6); no kernel or command in this module reads it.
type Functor interface {
	Apply(wRow, hCol Row, x, eps float64)
	Regularize(wRow, hCol Row, eps float64)
	RescaleStratumStepsize() bool
}

func dot(a, b Row) float64 {
	var s float64
	for k := range a {
		s += a[k] * b[k]
	}
	return s
}

// Nzsl is the gradient of (x - <W_i, H_j>)^2 w.r.t. the two factor rows,
// with no regularization term.
type Nzsl struct{}

func (Nzsl) Apply(w, h Row, x, eps float64) {
	err := x - dot(w, h)
	for k := range w {
		wk, hk := w[k], h[k]
		w[k] = wk + eps*2*err*hk
		h[k] = hk + eps*2*err*wk
	}
}
func (Nzsl) Regularize(w, h Row, eps float64) {}
func (Nzsl) RescaleStratumStepsize() bool     { return false }

// NzslL2 adds lambda*W_i and lambda*H_j through Regularize, kept out of
// Apply (which does only the squared-loss step) to keep the hot loop
// cheap. cmd/mf-dsgd calls Regularize once per epoch; no other command
// calls it.
type NzslL2 struct{ Lambda float64 }

func (u NzslL2) Apply(w, h Row, x, eps float64) { Nzsl{}.Apply(w, h, x, eps) }
func (u NzslL2) Regularize(w, h Row, eps float64) {
	for k := range w {
		w[k] -= eps * u.Lambda * w[k]
	}
	for k := range h {
		h[k] -= eps * u.Lambda * h[k]
	}
}
func (u NzslL2) RescaleStratumStepsize() bool { return true }

// NzslNzl2 is NzslL2 weighted by the per-row/column nonzero counts instead
// of a flat lambda.
type NzslNzl2 struct {
	Lambda float64
	Nnz1I  int
	Nnz2J  int
}

func (u NzslNzl2) Apply(w, h Row, x, eps float64) { Nzsl{}.Apply(w, h, x, eps) }
func (u NzslNzl2) Regularize(w, h Row, eps float64) {
	for k := range w {
		w[k] -= eps * u.Lambda * float64(u.Nnz1I) * w[k]
	}
	for k := range h {
		h[k] -= eps * u.Lambda * float64(u.Nnz2J) * h[k]
	}
}
func (u NzslNzl2) RescaleStratumStepsize() bool { return true }

// BiasedNzslNzl2 treats column 0 of W and row 0 of H as bias terms,
// regularised separately (lambdaRow/lambdaCol) and excluded from the
// interaction term for their own dimension.
type BiasedNzslNzl2 struct {
	LambdaW, LambdaH     float64
	LambdaRow, LambdaCol float64
}

func (u BiasedNzslNzl2) Apply(w, h Row, x, eps float64) {
	// w[0]/h[0] are biases: included in the prediction but not scaled by
	// the paired factor in their own gradient term.
	pred := w[0] + h[0]
	for k := 1; k < len(w); k++ {
		pred += w[k] * h[k]
	}
	err := x - pred
	w[0] += eps * 2 * err
	h[0] += eps * 2 * err
	for k := 1; k < len(w); k++ {
		wk, hk := w[k], h[k]
		w[k] = wk + eps*2*err*hk
		h[k] = hk + eps*2*err*wk
	}
}
func (u BiasedNzslNzl2) Regularize(w, h Row, eps float64) {
	w[0] -= eps * u.LambdaRow * w[0]
	h[0] -= eps * u.LambdaCol * h[0]
	for k := 1; k < len(w); k++ {
		w[k] -= eps * u.LambdaW * w[k]
	}
	for k := 1; k < len(h); k++ {
		h[k] -= eps * u.LambdaH * h[k]
	}
}
func (u BiasedNzslNzl2) RescaleStratumStepsize() bool { return true }

// Sl is the squared-loss gradient without the "nonzero" qualifier used by
// Nzsl's naming (same formula; kept distinct so loss/update naming mirrors
// the original source's Name(args) functor grammar).
type Sl struct{}

func (Sl) Apply(w, h Row, x, eps float64)   { Nzsl{}.Apply(w, h, x, eps) }
func (Sl) Regularize(w, h Row, eps float64) {}
func (Sl) RescaleStratumStepsize() bool     { return false }

// Gkl is the generalized KL-divergence gradient step.
type Gkl struct{}

func (Gkl) Apply(w, h Row, x, eps float64) {
	pred := dot(w, h)
	if pred <= 0 {
		return
	}
	ratio := x / pred
	for k := range w {
		wk, hk := w[k], h[k]
		w[k] = wk + eps*hk*(ratio-1)
		h[k] = hk + eps*wk*(ratio-1)
	}
}
func (Gkl) Regularize(w, h Row, eps float64) {}
func (Gkl) RescaleStratumStepsize() bool     { return false }

// Gnmf is the multiplicative-update step used only by the alternating
// kernel driver (pkg/mf/alternating), not the per-nonzero SGD loop; it
// implements Functor for uniformity with the functor-name parser, but
// Apply/Regularize are no-ops here — see alternating.GNMFStep for the
// real closed-form update.
type Gnmf struct{}

func (Gnmf) Apply(w, h Row, x, eps float64)   {}
func (Gnmf) Regularize(w, h Row, eps float64) {}
func (Gnmf) RescaleStratumStepsize() bool     { return false }

// UpdateAbs wraps a Functor, clamping every component of W_i/H_j to |.|
// after the step.
type UpdateAbs struct{ Functor }

func (u UpdateAbs) Apply(w, h Row, x, eps float64) {
	u.Functor.Apply(w, h, x, eps)
	for k := range w {
		w[k] = math.Abs(w[k])
	}
	for k := range h {
		h[k] = math.Abs(h[k])
	}
}

// UpdateTruncate wraps a Functor, clamping every component to [Lo, Hi]
// after the step.
type UpdateTruncate struct {
	Functor
	Lo, Hi float64
}

func (u UpdateTruncate) Apply(w, h Row, x, eps float64) {
	u.Functor.Apply(w, h, x, eps)
	clamp := func(r Row) {
		for k := range r {
			if r[k] < u.Lo {
				r[k] = u.Lo
			} else if r[k] > u.Hi {
				r[k] = u.Hi
			}
		}
	}
	clamp(w)
	clamp(h)
}

// RowLocks is the per-index mutex set UpdateLock acquires around a step —
// ASGD and stratified PSGD share one RowLocks for W's rows and one for
// H's columns.
type RowLocks struct {
	mu []sync.Mutex
}

// NewRowLocks allocates n independent locks.
func NewRowLocks(n int) *RowLocks { return &RowLocks{mu: make([]sync.Mutex, n)} }

func (l *RowLocks) Lock(i int)   { l.mu[i].Lock() }
func (l *RowLocks) Unlock(i int) { l.mu[i].Unlock() }

// UpdateLock wraps a Functor, acquiring the per-row W lock and per-column
// H lock around the step — required for ASGD and stratified PSGD where
// multiple goroutines touch overlapping rows/columns without the
// DSGD-style block partition to keep them disjoint.
type UpdateLock struct {
	Functor
	WLocks, HLocks *RowLocks
	I, J           int
}

func (u UpdateLock) Apply(w, h Row, x, eps float64) {
	// Lock order is always W-row then H-column to avoid deadlock between
	// two updates that need each other's locks in the opposite order.
	u.WLocks.Lock(u.I)
	defer u.WLocks.Unlock(u.I)
	u.HLocks.Lock(u.J)
	defer u.HLocks.Unlock(u.J)
	u.Functor.Apply(w, h, x, eps)
}
