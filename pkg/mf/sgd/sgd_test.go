package sgd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/sparse"
	"github.com/dsgdpp/mf/pkg/mf/update"
	"github.com/dsgdpp/mf/pkg/rngsplit"
	"github.com/dsgdpp/mf/pkg/runtime"
)

func toyMatrix(t *testing.T) *sparse.COO {
	t.Helper()
	v, err := sparse.NewCOO(3, 3,
		[]int32{0, 1, 2, 0, 2},
		[]int32{0, 1, 2, 2, 0},
		[]float64{1, 2, 3, 4, 5},
		true)
	require.NoError(t, err)
	return v
}

func initFactors(m, n, r int, rng *rngsplit.Rand) ([][]float64, [][]float64) {
	w := make([][]float64, m)
	for i := range w {
		w[i] = make([]float64, r)
		for k := range w[i] {
			w[i][k] = rng.NextFloat64()
		}
	}
	h := make([][]float64, n)
	for j := range h {
		h[j] = make([]float64, r)
		for k := range h[j] {
			h[j][k] = rng.NextFloat64()
		}
	}
	return w, h
}

func squaredError(v *sparse.COO, w, h [][]float64) float64 {
	var s float64
	for p := 0; p < v.Nnz(); p++ {
		i, j, x := v.Row[p], v.Col[p], v.Val[p]
		var pred float64
		for k := range w[i] {
			pred += w[i][k] * h[j][k]
		}
		diff := x - pred
		s += diff * diff
	}
	return s
}

func TestRunSequentialEpochReducesError(t *testing.T) {
	v := toyMatrix(t)
	rng := rngsplit.NewRand(1)
	w, h := initFactors(3, 3, 2, rng)
	fn := update.Nzsl{}

	before := squaredError(v, w, h)
	for e := 0; e < 50; e++ {
		RunSequentialEpoch(v, w, h, fn, 0.05, PointSEQ, rng)
	}
	after := squaredError(v, w, h)
	assert.Less(t, after, before)
}

func TestVisitOrderCoversEveryIndexUnderWOR(t *testing.T) {
	rng := rngsplit.NewRand(5)
	order := visitOrder(PointWOR, 6, rng)
	seen := make(map[int]bool)
	for _, idx := range order {
		seen[idx] = true
	}
	assert.Len(t, seen, 6)
}

func TestVisitOrderSEQIsIdentity(t *testing.T) {
	order := visitOrder(PointSEQ, 5, rngsplit.NewRand(1))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRunDsgdEpochRespectsBlockPartition(t *testing.T) {
	// A 2x2 block grid, one nonzero in each diagonal block.
	blocks := make([]*sparse.COO, 4)
	blocks[0], _ = sparse.NewCOO(2, 2, []int32{0}, []int32{0}, []float64{1}, true) // (b1=0,b2=0)
	blocks[3], _ = sparse.NewCOO(2, 2, []int32{1}, []int32{1}, []float64{2}, true) // (b1=1,b2=1)

	rng := rngsplit.NewRand(2)
	w := [][][]float64{
		{{0.1, 0.1}, {0.1, 0.1}},
		{{0.1, 0.1}, {0.1, 0.1}},
	}
	h := [][][]float64{
		{{0.1, 0.1}, {0.1, 0.1}},
		{{0.1, 0.1}, {0.1, 0.1}},
	}
	sched := stratumIdentitySchedule(2)

	err := RunDsgdEpoch(context.Background(), blocks, w, h, sched, 1, 2, 2, update.Nzsl{}, 0.01, PointSEQ, []*rngsplit.Rand{rng})
	require.NoError(t, err)
}

// stratumIdentitySchedule builds the trivial d x d "everyone touches their
// own block" schedule used only to exercise RunDsgdEpoch without pulling in
// pkg/mf/stratum's randomized constructions.
func stratumIdentitySchedule(d int) [][]int {
	s := make([][]int, d)
	for row := range s {
		s[row] = make([]int, d)
		for task := range s[row] {
			s[row][task] = task
		}
	}
	return s
}

func TestRunAsgdEpochReducesError(t *testing.T) {
	v := toyMatrix(t)
	rng := rngsplit.NewRand(3)
	w, h := initFactors(3, 3, 2, rng)
	st := &AsgdState{
		W: w, H: h,
		WLocks: update.NewRowLocks(len(w)),
		HLocks: update.NewRowLocks(len(h)),
	}
	fn := update.Nzsl{}

	before := squaredError(v, w, h)
	for e := 0; e < 50; e++ {
		err := RunAsgdEpoch(context.Background(), v, st, fn, 0.05, 4, rng)
		require.NoError(t, err)
	}
	after := squaredError(v, w, h)
	assert.Less(t, after, before)
}

func TestPsgdBlockSizeIsPositiveAndRespectsCacheBudget(t *testing.T) {
	b := PsgdBlockSize(1<<16, 10)
	assert.Greater(t, b, 0)
	// 2*b*r + b^2 must not exceed the cache budget.
	assert.LessOrEqual(t, 2*b*10+b*b, 1<<16)
}

func TestPsgdBlockSizeDegenerateInputsReturnOne(t *testing.T) {
	assert.Equal(t, 1, PsgdBlockSize(0, 10))
	assert.Equal(t, 1, PsgdBlockSize(1000, 0))
}

func TestRunStratifiedPsgdEpochReducesError(t *testing.T) {
	v := toyMatrix(t)
	rng := rngsplit.NewRand(4)
	w, h := initFactors(3, 3, 2, rng)
	fn := update.Nzsl{}

	before := squaredError(v, w, h)
	for e := 0; e < 50; e++ {
		err := RunStratifiedPsgdEpoch(context.Background(), v, w, h, 2, fn, 0.05, PointWOR, rng)
		require.NoError(t, err)
	}
	after := squaredError(v, w, h)
	assert.Less(t, after, before)
}

func TestRunStratifiedPsgdEpochRejectsNonPositiveBlockSize(t *testing.T) {
	v := toyMatrix(t)
	w, h := initFactors(3, 3, 2, rngsplit.NewRand(1))
	err := RunStratifiedPsgdEpoch(context.Background(), v, w, h, 0, update.Nzsl{}, 0.01, PointSEQ, rngsplit.NewRand(1))
	assert.Error(t, err)
}

func TestExchangePointerSwapsOwnership(t *testing.T) {
	handles := &runtime.Handles{}
	mine := handles.Put([][]float64{{1, 2}})
	next, prev := ExchangePointer(handles, mine, [][]float64{{3, 4}})
	assert.Equal(t, mine, next)
	assert.Equal(t, [][]float64{{1, 2}}, prev)
	v, ok := handles.Get(mine)
	require.True(t, ok)
	assert.Equal(t, [][]float64{{3, 4}}, v)
}
