package trace

import (
	"net"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/cluster"
)

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestBootstrapRaftSingleVoterBecomesLeaderAndReplicatesEntries(t *testing.T) {
	dir := t.TempDir()
	self := cluster.Peer{Rank: 0, Address: freeTCPAddr(t)}
	fsm := NewFSM()

	r, err := BootstrapRaft(dir, self, []cluster.Peer{self}, fsm)
	require.NoError(t, err)
	defer r.Shutdown()

	require.Eventually(t, func() bool {
		return r.State() == raft.Leader
	}, 5*time.Second, 50*time.Millisecond, "single voter never became leader")

	unused := NewLog()
	err = AppendEntry(r, unused, Entry{Kind: KindEpochLoss, Epoch: 3, RunID: "run-1", Loss: 0.5})
	require.NoError(t, err)
	assert.Empty(t, unused.Entries(), "AppendEntry must not touch the local log once a Raft group is attached")

	require.Eventually(t, func() bool {
		return len(fsm.Entries()) == 1
	}, 2*time.Second, 20*time.Millisecond, "fsm never observed the replicated entry")

	entries := fsm.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, KindEpochLoss, entries[0].Kind)
	assert.Equal(t, 3, entries[0].Epoch)
	assert.Equal(t, "run-1", entries[0].RunID)
}

func TestAppendEntryOnNonLeaderReturnsWithoutAppending(t *testing.T) {
	// A Raft handle that has been shut down reports itself as Shutdown,
	// never Leader, exercising AppendEntry's non-leader no-op branch
	// without needing a multi-voter cluster to force a stepdown.
	dir := t.TempDir()
	self := cluster.Peer{Rank: 0, Address: freeTCPAddr(t)}
	fsm := NewFSM()

	r, err := BootstrapRaft(dir, self, []cluster.Peer{self}, fsm)
	require.NoError(t, err)
	require.NoError(t, r.Shutdown().Error())

	err = AppendEntry(r, NewLog(), Entry{Kind: KindBalance, Epoch: 1})
	assert.NoError(t, err)
	assert.Empty(t, fsm.Entries())
}
