package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNzslReducesError(t *testing.T) {
	w := []float64{0.5, 0.5}
	h := []float64{0.5, 0.5}
	before := 1.0 - (w[0]*h[0] + w[1]*h[1])

	Nzsl{}.Apply(w, h, 1.0, 0.05)

	after := 1.0 - (w[0]*h[0] + w[1]*h[1])
	assert.Less(t, after*after, before*before)
}

func TestNzslL2RegularizeShrinksWeights(t *testing.T) {
	w := []float64{1, 1}
	h := []float64{1, 1}
	reg := NzslL2{Lambda: 0.1}
	reg.Regularize(w, h, 0.1)
	assert.Less(t, w[0], 1.0)
	assert.Less(t, h[0], 1.0)
}

func TestBiasedNzslNzl2AppliesBiasTerms(t *testing.T) {
	w := []float64{0, 1, 1}
	h := []float64{0, 1, 1}
	f := BiasedNzslNzl2{LambdaW: 0.01, LambdaH: 0.01, LambdaRow: 0.01, LambdaCol: 0.01}
	f.Apply(w, h, 5.0, 0.1)
	assert.NotEqual(t, 0.0, w[0])
	assert.NotEqual(t, 0.0, h[0])
}

func TestGklNoOpWhenPredictionNonPositive(t *testing.T) {
	w := []float64{0, 0}
	h := []float64{1, 1}
	Gkl{}.Apply(w, h, 1.0, 0.1)
	assert.Equal(t, []float64{0, 0}, w)
}

func TestUpdateAbsClampsToNonNegative(t *testing.T) {
	w := []float64{-1, -1}
	h := []float64{-1, -1}
	wrapped := UpdateAbs{Functor: Nzsl{}}
	wrapped.Apply(w, h, 1.0, 0.5)
	for _, v := range w {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestUpdateTruncateClampsToRange(t *testing.T) {
	w := []float64{10, 10}
	h := []float64{10, 10}
	wrapped := UpdateTruncate{Functor: Nzsl{}, Lo: -1, Hi: 1}
	wrapped.Apply(w, h, 1.0, 0.5)
	for _, v := range w {
		assert.LessOrEqual(t, v, 1.0)
		assert.GreaterOrEqual(t, v, -1.0)
	}
}

func TestUpdateLockSerializesConcurrentAccess(t *testing.T) {
	w := []float64{0, 0}
	h := []float64{1, 1}
	wl := NewRowLocks(1)
	hl := NewRowLocks(1)

	done := make(chan struct{})
	go func() {
		locked := UpdateLock{Functor: Nzsl{}, WLocks: wl, HLocks: hl, I: 0, J: 0}
		locked.Apply(w, h, 1.0, 0.1)
		done <- struct{}{}
	}()
	locked := UpdateLock{Functor: Nzsl{}, WLocks: wl, HLocks: hl, I: 0, J: 0}
	locked.Apply(w, h, 1.0, 0.1)
	<-done

	assert.NotEqual(t, 0.0, w[0])
}
