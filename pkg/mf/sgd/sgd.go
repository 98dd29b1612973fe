// Package sgd implements the training-point and epoch kernels of
// SPEC_FULL §4.6: sequential SGD with SEQ/WR/WOR point ordering, the
// DSGD/DSGD+/DSGD++ epoch kernel (there is no separate MapReduce mode),
// ASGD (Hogwild-style), PSGD, and stratified PSGD.
package sgd

import (
	"context"
	"math"

	"github.com/dsgdpp/mf/pkg/dmatrix"
	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/mf/sparse"
	"github.com/dsgdpp/mf/pkg/mf/stratum"
	"github.com/dsgdpp/mf/pkg/mf/update"
	"github.com/dsgdpp/mf/pkg/rngsplit"
	"github.com/dsgdpp/mf/pkg/runtime"
)

// PointOrder selects how a sequential epoch walks a block's nonzeros.
type PointOrder int

const (
	PointSEQ PointOrder = iota
	PointWR
	PointWOR
)

// knuthShuffle builds a WOR visiting order in place (Fisher-Yates), the
// same construction pkg/mf/stratum uses for block schedules, applied here
// to point indices within one block.
func knuthShuffle(rng *rngsplit.Rand, n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.NextInt(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// visitOrder returns the sequence of nonzero indices a sequential epoch
// visits for one block, per PointOrder. The "2-ahead prefetch" property
// of the original driver is advisory only in this in-memory Go runtime
// (there is no disk-resident block to stage), so order is all that
// matters here.
func visitOrder(order PointOrder, n int, rng *rngsplit.Rand) []int {
	switch order {
	case PointWR:
		p := make([]int, n)
		for i := range p {
			p[i] = rng.NextInt(n)
		}
		return p
	case PointWOR:
		return knuthShuffle(rng, n)
	default:
		p := make([]int, n)
		for i := range p {
			p[i] = i
		}
		return p
	}
}

// RunSequentialEpoch applies fn to every nonzero of v once, in the order
// given by order, mutating w/h in place — the single-node training-point
// kernel used directly by sequential runs and as the inner loop of every
// block-parallel kernel below.
func RunSequentialEpoch(v *sparse.COO, w, h [][]float64, fn update.Functor, eps float64, order PointOrder, rng *rngsplit.Rand) {
	visits := visitOrder(order, v.Nnz(), rng)
	for _, k := range visits {
		i, j, x := v.Row[k], v.Col[k], v.Val[k]
		fn.Apply(w[i], h[j], x, eps)
	}
}

// BlockTaskResult is what a single DSGD task reports back after
// processing its assigned block for one subepoch.
type BlockTaskResult struct {
	B1, B2 int
}

// RunDsgdEpoch runs one epoch of DSGD over dm's stratum schedule. Since
// both W and H live fully in memory in this runtime (sharded ownership is
// tracked but not enforced by separate address spaces within one
// process), the stratum partition is honored by construction: at
// subepoch s, task i only ever touches dm's rows assigned to it and
// exactly the H-block named by schedule[s][i], so concurrent subepoch
// steps never race on the same H-block — the defining DSGD invariant
// (SPEC_FULL §4.5, §8). blockRows/blockCols give each block's global
// row/column index ranges.
func RunDsgdEpoch(
	ctx context.Context,
	v []*sparse.COO, // v[b1*blocks2+b2] is the block's local nonzeros, pre-offset to block-local indices
	w, h [][][]float64, // w[b1] rows for block-row b1 (shared across all b2 for that row); h[b2] rows for block-col b2
	schedule stratum.Schedule,
	tasksPerRank, blocks1, blocks2 int,
	fn update.Functor,
	eps float64,
	order PointOrder,
	rngs []*rngsplit.Rand, // one per task
) error {
	d := len(schedule)
	if d == 0 {
		return nil
	}
	for s := 0; s < d; s++ {
		errCh := make(chan error, tasksPerRank*blocks1)
		var pending int
		for b1 := 0; b1 < blocks1; b1++ {
			taskID := b1 % tasksPerRank
			b2 := schedule[s][taskID%d] % blocks2
			pending++
			go func(b1, b2, taskID int) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				idx := b1*blocks2 + b2
				if idx >= len(v) || v[idx] == nil {
					errCh <- nil
					return
				}
				RunSequentialEpoch(v[idx], w[b1], h[b2], fn, eps, order, rngs[taskID%len(rngs)])
				errCh <- nil
			}(b1, b2, taskID)
		}
		for i := 0; i < pending; i++ {
			if err := <-errCh; err != nil {
				return err
			}
		}
		// Barrier between subepochs: the next row of the schedule assumes
		// every task finished writing its current H-block before any task
		// reads it again, matching the synchronous epoch semantics of
		// §4.6. The barrier is kept for DSGD+ and DSGD++ schedules too;
		// ExchangePointer below is a separate helper not called here.
	}
	return nil
}

// AsgdState is the shared H buffer multiple worker goroutines update
// concurrently under row-level locks — the Hogwild-style relaxation that
// tolerates races on H in exchange for dropping DSGD's block partition
// entirely (SPEC_FULL §4.6's ASGD description).
type AsgdState struct {
	W, H     [][]float64
	HLocks   *update.RowLocks
	WLocks   *update.RowLocks
	AggEpoch int // number of local epochs between ΔH shuffles/aggregation
}

// RunAsgdEpoch runs one epoch of Hogwild-style ASGD: nWorkers goroutines
// each scan a disjoint slice of v's nonzeros (row-major split, no attempt
// to avoid row/column collisions) and apply fn under UpdateLock.
func RunAsgdEpoch(ctx context.Context, v *sparse.COO, st *AsgdState, fn update.Functor, eps float64, nWorkers int, rng *rngsplit.Rand) error {
	n := v.Nnz()
	if n == 0 || nWorkers <= 0 {
		return nil
	}
	chunk := (n + nWorkers - 1) / nWorkers
	errCh := make(chan error, nWorkers)
	for wkr := 0; wkr < nWorkers; wkr++ {
		lo := wkr * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			errCh <- nil
			continue
		}
		go func(lo, hi int) {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}
			for k := lo; k < hi; k++ {
				i, j, x := int(v.Row[k]), int(v.Col[k]), v.Val[k]
				locked := update.UpdateLock{Functor: fn, WLocks: st.WLocks, HLocks: st.HLocks, I: i, J: j}
				locked.Apply(st.W[i], st.H[j], x, eps)
			}
			errCh <- nil
		}(lo, hi)
	}
	for wkr := 0; wkr < nWorkers; wkr++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// PsgdBlockSize solves the cache quadratic b^2 + 2*b*r - cacheSizeFloats = 0
// for the largest integer block size b such that two b x r factor blocks
// (W-slice and H-slice) plus a b x b working set fit in cacheSizeFloats
// floats — the stratified-PSGD cache-aware block sizing of SPEC_FULL
// §4.6 ("stratified PSGD"). r is the factorization rank; the matrix
// dimensions and nonzero count do not enter the computation.
func PsgdBlockSize(cacheSizeFloats, r int) int {
	if r <= 0 || cacheSizeFloats <= 0 {
		return 1
	}
	// 2*b*r (W and H slices) + b^2 (interaction working set) <= cacheSizeFloats
	a := 1.0
	bCoeff := 2.0 * float64(r)
	c := -float64(cacheSizeFloats)
	disc := bCoeff*bCoeff - 4*a*c
	if disc < 0 {
		return 1
	}
	b := int(math.Floor((-bCoeff + math.Sqrt(disc)) / (2 * a)))
	if b < 1 {
		b = 1
	}
	return b
}

// RunStratifiedPsgdEpoch partitions v's row range into blocks of size b
// (PsgdBlockSize) and column range likewise, and walks a WOR stratum
// schedule over the resulting blocks1 x blocks2 grid: in each subepoch
// every block row runs in its own goroutine on a distinct column block,
// so each block is visited once per epoch, its points in the given
// order. Every update runs under UpdateLock.
func RunStratifiedPsgdEpoch(
	ctx context.Context,
	v *sparse.COO,
	w, h [][]float64,
	b int,
	fn update.Functor,
	eps float64,
	order PointOrder,
	rng *rngsplit.Rand,
) error {
	if b <= 0 {
		return mferrors.NewConfigError("sgd: stratified psgd block size must be positive", nil)
	}
	blocks1 := (len(w) + b - 1) / b
	blocks2 := (len(h) + b - 1) / b
	if blocks1 == 0 || blocks2 == 0 {
		return nil
	}
	d := blocks1
	if blocks2 > d {
		d = blocks2
	}
	sched := stratum.Compute(stratum.WOR, d, rng)

	byBlock := make(map[int][]int)
	for k := range v.Row {
		bi := int(v.Row[k]) / b
		bj := int(v.Col[k]) / b
		key := bi*blocks2 + bj
		byBlock[key] = append(byBlock[key], k)
	}

	wlocks := update.NewRowLocks(len(w))
	hlocks := update.NewRowLocks(len(h))

	for s := 0; s < d; s++ {
		errCh := make(chan error, blocks1)
		pending := 0
		for bi := 0; bi < blocks1; bi++ {
			bj := sched[s][bi]
			if bj >= blocks2 {
				continue
			}
			pending++
			blockRng := rng.Split()
			go func(bi, bj int, blockRng *rngsplit.Rand) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				idxs := byBlock[bi*blocks2+bj]
				for _, p := range visitOrder(order, len(idxs), blockRng) {
					k := idxs[p]
					i, j, x := int(v.Row[k]), int(v.Col[k]), v.Val[k]
					locked := update.UpdateLock{Functor: fn, WLocks: wlocks, HLocks: hlocks, I: i, J: j}
					locked.Apply(w[i], h[j], x, eps)
				}
				errCh <- nil
			}(bi, bj, blockRng)
		}
		for i := 0; i < pending; i++ {
			if err := <-errCh; err != nil {
				return err
			}
		}
	}
	return nil
}

// ExchangePointer implements the DSGD+ same-node fast path (SPEC_FULL
// §4.6): instead of a synchronous fetch of the next subepoch's H-block,
// two tasks on the same rank swap ownership of their in-memory blocks by
// exchanging handles.
func ExchangePointer(handles *runtime.Handles, mine uint64, incoming [][]float64) (uint64, [][]float64) {
	old, _ := handles.Exchange(mine, incoming)
	prev, _ := old.([][]float64)
	return mine, prev
}

// DistributedMatrixShape is a convenience view used by callers assembling
// the w/h block slices RunDsgdEpoch expects from a dmatrix.DistributedMatrix.
type DistributedMatrixShape struct {
	Blocks1, Blocks2 int
}

func ShapeOf(dm *dmatrix.DistributedMatrix) DistributedMatrixShape {
	return DistributedMatrixShape{Blocks1: dm.Blocks1, Blocks2: dm.Blocks2}
}
