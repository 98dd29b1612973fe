package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutBlockThenGetBlockRoundTrips(t *testing.T) {
	s := openTemp(t)
	want := []float64{1.5, -2.25, 0, 3.125}
	require.NoError(t, s.PutBlock(3, "w", 0, 1, want))

	got, err := s.GetBlock(3, "w", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetBlockMissingKeyFails(t *testing.T) {
	s := openTemp(t)
	_, err := s.GetBlock(0, "w", 0, 0)
	assert.Error(t, err)
}

func TestLatestEpochReturnsHighestWrittenEpoch(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.PutBlock(1, "h", 0, 0, []float64{1}))
	require.NoError(t, s.PutBlock(5, "h", 0, 0, []float64{2}))
	require.NoError(t, s.PutBlock(3, "w", 1, 0, []float64{3}))

	epoch, found, err := s.LatestEpoch()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, epoch)
}

func TestLatestEpochReportsNotFoundOnEmptyStore(t *testing.T) {
	s := openTemp(t)
	_, found, err := s.LatestEpoch()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBlockCIDIsDeterministicAndSensitiveToContent(t *testing.T) {
	a, err := BlockCID([]float64{1, 2, 3})
	require.NoError(t, err)
	b, err := BlockCID([]float64{1, 2, 3})
	require.NoError(t, err)
	c, err := BlockCID([]float64{1, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBlockKeyDistinguishesMatrixAndBlockCoordinates(t *testing.T) {
	a := blockKey(1, "w", 0, 0)
	b := blockKey(1, "h", 0, 0)
	c := blockKey(1, "w", 0, 1)
	assert.NotEqual(t, string(a), string(b))
	assert.NotEqual(t, string(a), string(c))
}
