package alternating

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/sparse"
)

func toyMatrix(t *testing.T) *sparse.COO {
	t.Helper()
	v, err := sparse.NewCOO(3, 3,
		[]int32{0, 0, 1, 1, 2, 2},
		[]int32{0, 1, 1, 2, 0, 2},
		[]float64{4, 1, 3, 2, 1, 5},
		true)
	require.NoError(t, err)
	return v
}

func squaredError(v *sparse.COO, w, h [][]float64) float64 {
	var s float64
	for k := range v.Row {
		i, j, x := int(v.Row[k]), int(v.Col[k]), v.Val[k]
		var pred float64
		for kk := range w[i] {
			pred += w[i][kk] * h[j][kk]
		}
		diff := x - pred
		s += diff * diff
	}
	return s
}

func initFactors(m, n, r int, base float64) ([][]float64, [][]float64) {
	w := make([][]float64, m)
	for i := range w {
		w[i] = make([]float64, r)
		for k := range w[i] {
			w[i][k] = base + 0.1*float64(i+k)
		}
	}
	h := make([][]float64, n)
	for j := range h {
		h[j] = make([]float64, r)
		for k := range h[j] {
			h[j][k] = base + 0.1*float64(j+k)
		}
	}
	return w, h
}

func TestALSStepReducesError(t *testing.T) {
	v := toyMatrix(t)
	w, h := initFactors(3, 3, 2, 0.5)

	before := squaredError(v, w, h)
	for i := 0; i < 10; i++ {
		require.NoError(t, ALSStep(context.Background(), v, w, h, 0.01, false))
		require.NoError(t, ALSStepTranspose(context.Background(), v, h, w, 0.01, false))
	}
	after := squaredError(v, w, h)
	assert.Less(t, after, before)
}

func TestALSStepLeavesRowWithNoEntriesUnchanged(t *testing.T) {
	v, err := sparse.NewCOO(3, 2, []int32{0}, []int32{0}, []float64{1}, true)
	require.NoError(t, err)
	w := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	h := [][]float64{{1, 1}, {1, 1}}

	require.NoError(t, ALSStep(context.Background(), v, w, h, 0.01, false))
	assert.Equal(t, []float64{3, 4}, w[1])
	assert.Equal(t, []float64{5, 6}, w[2])
}

func TestRescaleSimpleEqualizesNorms(t *testing.T) {
	w := [][]float64{{4, 0}, {0, 0}}
	h := [][]float64{{0, 0}, {0, 1}}
	RescaleSimple(w, h)
	var wSum, hSum float64
	for _, row := range w {
		for _, x := range row {
			wSum += x * x
		}
	}
	for _, row := range h {
		for _, x := range row {
			hSum += x * x
		}
	}
	assert.InDelta(t, wSum, hSum, 1e-9)
}

func TestRescaleOptimalPreservesProduct(t *testing.T) {
	w := [][]float64{{2, 3}, {1, 1}}
	h := [][]float64{{5, 1}, {2, 4}}

	before := make([][]float64, len(w))
	for i := range w {
		before[i] = make([]float64, len(h))
		for j := range h {
			var s float64
			for k := range w[i] {
				s += w[i][k] * h[j][k]
			}
			before[i][j] = s
		}
	}

	RescaleOptimal(w, h)

	for i := range w {
		for j := range h {
			var s float64
			for k := range w[i] {
				s += w[i][k] * h[j][k]
			}
			assert.InDelta(t, before[i][j], s, 1e-6)
		}
	}
}

func TestGNMFStepKeepsFactorsNonNegativeAndReducesError(t *testing.T) {
	v := toyMatrix(t)
	w, h := initFactors(3, 3, 2, 0.5)

	before := squaredError(v, w, h)
	for i := 0; i < 30; i++ {
		GNMFStep(v, w, h)
		GNMFStepTranspose(v, h, w)
	}
	after := squaredError(v, w, h)
	assert.LessOrEqual(t, after, before)
	for _, row := range w {
		for _, x := range row {
			assert.GreaterOrEqual(t, x, 0.0)
		}
	}
}

func TestLee01GklStepKeepsFactorsNonNegative(t *testing.T) {
	v := toyMatrix(t)
	w, h := initFactors(3, 3, 2, 0.5)

	for i := 0; i < 30; i++ {
		Lee01GklStep(v, w, h)
		Lee01GklStepTranspose(v, h, w)
	}
	for _, row := range w {
		for _, x := range row {
			assert.GreaterOrEqual(t, x, 0.0)
		}
	}
	for _, row := range h {
		for _, x := range row {
			assert.GreaterOrEqual(t, x, 0.0)
		}
	}
}

func TestGramRowsIsSymmetric(t *testing.T) {
	m := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	g := gramRows(m, 2)
	assert.InDelta(t, g[0][1], g[1][0], 1e-12)
}
