package functorspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/mf/balance"
	"github.com/dsgdpp/mf/pkg/mf/update"
)

func TestParseBareName(t *testing.T) {
	sp, err := Parse("Nzsl")
	require.NoError(t, err)
	assert.Equal(t, "Nzsl", sp.Name)
	assert.Empty(t, sp.Args)
}

func TestParseNameWithArgs(t *testing.T) {
	sp, err := Parse("NzslL2(0.05)")
	require.NoError(t, err)
	assert.Equal(t, "NzslL2", sp.Name)
	assert.Equal(t, []float64{0.05}, sp.Args)
}

func TestParseMultipleArgs(t *testing.T) {
	sp, err := Parse("BoldDriver(0.01, 1.05, 0.5)")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.01, 1.05, 0.5}, sp.Args)
}

func TestParseRejectsUnbalancedParens(t *testing.T) {
	_, err := Parse("NzslL2(0.05")
	assert.Error(t, err)
}

func TestParseRejectsBadFloat(t *testing.T) {
	_, err := Parse("NzslL2(abc)")
	assert.Error(t, err)
}

func TestUpdateFunctorArityChecked(t *testing.T) {
	_, err := UpdateFunctor(Spec{Name: "NzslL2", Args: []float64{}})
	assert.Error(t, err)

	fn, err := UpdateFunctor(Spec{Name: "NzslL2", Args: []float64{0.1}})
	require.NoError(t, err)
	assert.IsType(t, update.NzslL2{}, fn)
}

func TestUpdateFunctorUnknownName(t *testing.T) {
	_, err := UpdateFunctor(Spec{Name: "NotAFunctor"})
	assert.Error(t, err)
}

func TestDecayRoundTrip(t *testing.T) {
	ctrl, err := Decay(Spec{Name: "BoldDriver", Args: []float64{0.01, 1.05, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 0.01, ctrl.Initial())
}

func TestLossSquaredDropsToZeroAtExactFit(t *testing.T) {
	lossFn, err := Loss(Spec{Name: "Nzsl"})
	require.NoError(t, err)
	w := [][]float64{{1, 0}}
	h := [][]float64{{1, 0}}
	got := lossFn(w, h, []int32{0}, []int32{0}, []float64{1})
	assert.InDelta(t, 0, got, 1e-9)
}

func TestSgdOrderParsesAllValues(t *testing.T) {
	for _, s := range []string{"SEQ", "WR", "WOR", "seq"} {
		_, err := SgdOrder(s)
		assert.NoError(t, err, s)
	}
	_, err := SgdOrder("bogus")
	assert.Error(t, err)
}

func TestStratumOrderParsesAllValues(t *testing.T) {
	for _, s := range []string{"SEQ", "RSEQ", "WR", "WOR", "COWOR"} {
		_, err := StratumOrder(s)
		assert.NoError(t, err, s)
	}
	_, err := StratumOrder("bogus")
	assert.Error(t, err)
}

func TestBalanceNoneDisables(t *testing.T) {
	bal, err := Balance("None")
	require.NoError(t, err)
	assert.False(t, bal.Enabled)

	bal, err = Balance("Nzl2")
	require.NoError(t, err)
	assert.True(t, bal.Enabled)
	assert.Equal(t, balance.Nzl2, bal.Norm)
}

func TestWrapComposesAbsAndTruncate(t *testing.T) {
	bounds := [2]float64{-1, 1}
	fn := Wrap(update.Nzsl{}, true, &bounds)
	w := []float64{-5}
	h := []float64{0}
	fn.Apply(w, h, 0, 0) // Apply here is Nzsl's own Apply composed through the wrappers
	assert.GreaterOrEqual(t, w[0], -1.0)
}
