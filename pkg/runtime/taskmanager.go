package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/logging"
)

// TaskIDQuit is a reserved task id. TaskManager has no main loop and
// nothing in this package reads TaskIDQuit; spawned tasks end when their
// bodies return.
const TaskIDQuit = -1

// TaskInfo is handed to every task body: its position in the spawned
// group, the group's size, and (if requested) the pairwise channel mesh to
// every other member, including cross-rank members.
type TaskInfo struct {
	GroupID   int
	GroupSize int
	Pairwise  []Channel // nil unless pairwise spawning was requested; self-entry is nil
}

// TaskFunc is a task body. It receives its dedicated Channel to the
// spawner and its TaskInfo, and may use Runtime to spawn further tasks
// (e.g. the per-block executor spawning its own sub-tasks).
type TaskFunc func(ctx context.Context, ch Channel, info TaskInfo) error

// TaskManager owns one node's worker pool, tag allocator, task registry
// and handle table. One TaskManager exists per rank in this process; a
// single-process multi-rank simulation creates one per simulated rank and
// wires their Channels directly (NewLocalPair) instead of through
// pkg/runtime/transport.
type TaskManager struct {
	Rank int

	log *logging.Logger

	nextTag  uint64
	registry sync.Map // taskID (string) -> TaskFunc

	handles Handles

	wg sync.WaitGroup

	peers map[int]*TaskManager // only populated in single-process simulation

	remote RemoteDialer // cross-process fallback; nil unless SetRemoteDialer was called
}

// NewTaskManager constructs a TaskManager for rank, logging through log.
func NewTaskManager(rank int, log *logging.Logger) *TaskManager {
	if log == nil {
		log = logging.Nop()
	}
	return &TaskManager{Rank: rank, log: log, peers: make(map[int]*TaskManager)}
}

// LinkPeer registers another rank's TaskManager as directly reachable in
// this process, enabling NewLocalPair-backed channels instead of network
// transport. Production multi-process deployments skip this and rely on
// pkg/runtime/transport.
func (tm *TaskManager) LinkPeer(peer *TaskManager) {
	tm.peers[peer.Rank] = peer
	peer.peers[tm.Rank] = tm
}

// Register installs a task body under taskID, overwriting any previous
// registration — used at startup to wire up DSGD/PSGD/ALS/GNMF task
// bodies before any Spawn call.
func (tm *TaskManager) Register(taskID string, fn TaskFunc) {
	tm.registry.Store(taskID, fn)
}

func (tm *TaskManager) allocTag() uint64 {
	return atomic.AddUint64(&tm.nextTag, 1)
}

// Spawn asks rank's TaskManager to create a single task of taskID and
// returns the duplex Channel to it.
func (tm *TaskManager) Spawn(ctx context.Context, rank int, taskID string) (Channel, error) {
	chs, err := tm.SpawnGroup(ctx, rank, taskID, 1)
	if err != nil {
		return nil, err
	}
	return chs[0], nil
}

// SpawnGroup spawns a task group of size n on rank, each member wired back
// to the caller by its own Channel but with no mesh between group members —
// callers that need a full pairwise mesh (DSGD's stratum task group) use
// SpawnAllPairwise instead.
func (tm *TaskManager) SpawnGroup(ctx context.Context, rank int, taskID string, n int) ([]Channel, error) {
	peer := tm.peers[rank]
	if peer == nil {
		if tm.remote != nil {
			return tm.spawnRemoteGroup(ctx, rank, taskID, n)
		}
		return nil, mferrors.NewRemoteCallError(fmt.Sprintf("runtime: no local link to rank %d", rank), nil)
	}
	fnVal, ok := peer.registry.Load(taskID)
	if !ok {
		return tm.spawnUnknown(taskID)
	}
	fn := fnVal.(TaskFunc)

	callerChannels := make([]Channel, n)
	for i := 0; i < n; i++ {
		localEP := Endpoint{Rank: tm.Rank, Tag: tm.allocTag()}
		remoteEP := Endpoint{Rank: rank, Tag: peer.allocTag()}
		callerSide, workerSide := NewLocalPair(localEP, remoteEP, 8)
		callerChannels[i] = callerSide

		info := TaskInfo{GroupID: i, GroupSize: n}
		peer.wg.Add(1)
		go func(i int, ch Channel, info TaskInfo) {
			defer peer.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					peer.log.Error(fmt.Errorf("%v", r), "task panicked", "task_id", taskID, "group_id", info.GroupID)
					ch.Close()
				}
			}()
			if err := fn(ctx, ch, info); err != nil {
				peer.log.Warn("task returned error", "task_id", taskID, "group_id", info.GroupID, "err", err.Error())
			}
		}(i, workerSide, info)
	}

	return callerChannels, nil
}

func (tm *TaskManager) spawnUnknown(taskID string) ([]Channel, error) {
	return nil, mferrors.NewRemoteCallError("runtime: unknown task id "+taskID, nil)
}

// SpawnAllPairwise spawns n tasks on every rank in ranks (a task group of
// size len(ranks)*n) and wires a full pairwise channel mesh between every
// member, including cross-rank members — the primitive DSGD's stratum
// engine uses to build its d x d task group.
func SpawnAllPairwise(ctx context.Context, managers map[int]*TaskManager, ranks []int, taskID string, n int) ([][]Channel, error) {
	d := len(ranks) * n
	// Build d global task identities (rank, localIndex).
	type identity struct {
		rank  int
		local int
	}
	ids := make([]identity, 0, d)
	for _, r := range ranks {
		for i := 0; i < n; i++ {
			ids = append(ids, identity{rank: r, local: i})
		}
	}

	mesh := make([][]Channel, d)
	for i := range mesh {
		mesh[i] = make([]Channel, d)
	}

	infos := make([]TaskInfo, d)
	for i := range infos {
		infos[i] = TaskInfo{GroupID: i, GroupSize: d, Pairwise: make([]Channel, d)}
	}

	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			tmI := managers[ids[i].rank]
			tmJ := managers[ids[j].rank]
			epI := Endpoint{Rank: ids[i].rank, Tag: tmI.allocTag()}
			epJ := Endpoint{Rank: ids[j].rank, Tag: tmJ.allocTag()}
			cI, cJ := NewLocalPair(epI, epJ, 8)
			infos[i].Pairwise[j] = cI
			infos[j].Pairwise[i] = cJ
		}
	}

	result := make([][]Channel, d)
	for i, id := range ids {
		tm := managers[id.rank]
		fnVal, ok := tm.registry.Load(taskID)
		if !ok {
			return nil, mferrors.NewRemoteCallError("runtime: unknown task id "+taskID, nil)
		}
		fn := fnVal.(TaskFunc)

		spawnerEP := Endpoint{Rank: -1, Tag: uint64(i)}
		localEP := Endpoint{Rank: id.rank, Tag: tm.allocTag()}
		callerSide, workerSide := NewLocalPair(spawnerEP, localEP, 8)
		result[i] = []Channel{callerSide}

		tm.wg.Add(1)
		info := infos[i]
		go func(ch Channel, info TaskInfo) {
			defer tm.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					tm.log.Error(fmt.Errorf("%v", r), "pairwise task panicked", "group_id", info.GroupID)
					ch.Close()
				}
			}()
			if err := fn(ctx, ch, info); err != nil {
				tm.log.Warn("pairwise task returned error", "group_id", info.GroupID, "err", err.Error())
			}
		}(workerSide, info)
	}

	out := make([][]Channel, d)
	for i := range out {
		out[i] = result[i]
	}
	return out, nil
}

// Wait blocks until every task spawned by this TaskManager has returned.
func (tm *TaskManager) Wait() { tm.wg.Wait() }
