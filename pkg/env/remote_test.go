package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLocalReturnsRegisteredStore(t *testing.T) {
	r := NewRegistry()
	s := NewStore()
	r.Register(3, s)
	assert.Same(t, s, r.Local(3))
	assert.Nil(t, r.Local(4))
}

func TestFetchAnyUsesLocalStoreWhenPresent(t *testing.T) {
	r := NewRegistry()
	s := NewStore()
	require.NoError(t, Create(s, "h0", 42, NoDelete))
	r.Register(1, s)

	called := false
	v, err := FetchAny[int](r, RemoteVar{Rank: 1, Name: "h0"}, func(RemoteVar) (int, error) {
		called = true
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, called)
}

func TestFetchAnyFallsBackToRemoteFetchForUnknownRank(t *testing.T) {
	r := NewRegistry()
	v, err := FetchAny[int](r, RemoteVar{Rank: 9, Name: "h0"}, func(rv RemoteVar) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestRemoteVarStringFormat(t *testing.T) {
	assert.Equal(t, "2:h0", RemoteVar{Rank: 2, Name: "h0"}.String())
}
