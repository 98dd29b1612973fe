package linsolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSolveNormalEquationsRecoversExactFit(t *testing.T) {
	// A 2-column design matrix where b = 2*col0 + 3*col1 exactly; with
	// lambda=0 the regularized normal equations reduce to the ordinary
	// least-squares solution, which should recover (2, 3) exactly.
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	b := []float64{2, 3, 5}

	x, err := SolveNormalEquations(a, b, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[0], 1e-9)
	assert.InDelta(t, 3.0, x[1], 1e-9)
}

func TestSolveNormalEquationsZeroRowsReturnsZeroVector(t *testing.T) {
	a := mat.NewDense(0, 3, nil)
	x, err := SolveNormalEquations(a, nil, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, x)
}

func TestSolveNormalEquationsRejectsRowMismatch(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	_, err := SolveNormalEquations(a, []float64{1, 2, 3}, 0.1)
	assert.Error(t, err)
}

func TestSolveNormalEquationsRegularizationShrinksSolution(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{1, 1})
	b := []float64{4, 4}

	unregularized, err := SolveNormalEquations(a, b, 0)
	require.NoError(t, err)
	regularized, err := SolveNormalEquations(a, b, 10)
	require.NoError(t, err)
	assert.Less(t, regularized[0], unregularized[0])
}

func TestSolveLeastSquaresZeroRowsReturnsZeroVector(t *testing.T) {
	a := mat.NewDense(0, 2, nil)
	x, err := SolveLeastSquares(a, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, x)
}
