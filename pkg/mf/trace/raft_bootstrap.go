package trace

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/dsgdpp/mf/pkg/cluster"
)

// BootstrapRaft starts a Raft voter for fsm over the peer set resolved by
// pkg/cluster, backed by raft-boltdb log/stable stores and a TCP
// transport bound to self.Address — the replicated log of SPEC_FULL §2,
// not a single-process simulation of one. self must be one entry of
// peers.
func BootstrapRaft(dataDir string, self cluster.Peer, peers []cluster.Peer, fsm *FSM) (*raft.Raft, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: creating raft data dir: %w", err)
	}

	conf := raft.DefaultConfig()
	conf.LocalID = serverID(self.Rank)

	bindAddr, err := net.ResolveTCPAddr("tcp", self.Address)
	if err != nil {
		return nil, fmt.Errorf("trace: resolving raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(self.Address, bindAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("trace: starting raft transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("trace: opening raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("trace: opening raft stable store: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("trace: opening raft snapshot store: %w", err)
	}

	r, err := raft.NewRaft(conf, fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("trace: starting raft node: %w", err)
	}

	servers := make([]raft.Server, len(peers))
	for i, p := range peers {
		servers[i] = raft.Server{ID: serverID(p.Rank), Address: raft.ServerAddress(p.Address)}
	}
	fut := r.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := fut.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("trace: bootstrapping raft cluster: %w", err)
	}

	return r, nil
}

func serverID(rank int) raft.ServerID {
	return raft.ServerID(fmt.Sprintf("rank-%d", rank))
}

// AppendEntry submits e for replication: with no Raft group (r == nil, the
// single-process simulation path) it appends straight to log; with a Raft
// group it goes through consensus instead, so every voter's FSM.Apply
// replays the identical entry and log is left untouched — callers read the
// trace back from fsm.Entries() in that mode. Non-leaders return nil
// without appending locally; they observe the entry once it replicates.
func AppendEntry(r *raft.Raft, log *Log, e Entry) error {
	if r == nil {
		log.Append(e)
		return nil
	}
	if r.State() != raft.Leader {
		return nil
	}
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return r.Apply(b, 5*time.Second).Error()
}
