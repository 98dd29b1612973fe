// Package blockexec implements the per-block scheduler and executor of
// SPEC_FULL §4.4: assigning distributed-matrix blocks to a balanced set of
// tasks, each running on the node that owns its blocks, and folding
// per-block results back into a result matrix.
package blockexec

import (
	"context"

	"github.com/dsgdpp/mf/pkg/dmatrix"
	"github.com/dsgdpp/mf/pkg/env"
)

// BlockKey identifies a block by its grid coordinates.
type BlockKey struct{ B1, B2 int }

// AssignBlocksToTasks returns a (b1,b2) -> groupID table such that every
// block is assigned to a task running on its owning rank and per-task
// counts differ by at most one. The assignment order is column-major over
// (b1,b2) so row blocks interleave across tasks, matching SPEC_FULL §4.4.
func AssignBlocksToTasks(locations [][]int, worldSize, tasksPerRank int) map[BlockKey]int {
	blocks1 := len(locations)
	blocks2 := 0
	if blocks1 > 0 {
		blocks2 = len(locations[0])
	}

	// next round-robin task-group offset per rank, so load is balanced
	// within the set of tasks a rank owns.
	nextLocalTask := make([]int, worldSize)
	assignment := make(map[BlockKey]int, blocks1*blocks2)

	for b2 := 0; b2 < blocks2; b2++ {
		for b1 := 0; b1 < blocks1; b1++ {
			rank := locations[b1][b2]
			local := nextLocalTask[rank] % tasksPerRank
			nextLocalTask[rank]++
			groupID := rank*tasksPerRank + local
			assignment[BlockKey{B1: b1, B2: b2}] = groupID
		}
	}
	return assignment
}

// RunTaskOnBlocks applies exec to every block of dm in row-major (b1, b2)
// order (the AssignBlocksToTasks result it computes does not change that
// order) and folds the results into a Blocks1 x Blocks2 matrix. construct builds the per-block argument
// (typically a RemoteVar triple for V/W/H); since every block in this
// in-process runtime is reachable directly through reg, this is a
// synchronous fold rather than a literal spawn/send/recv round trip — the
// spawn/send/recv shape is preserved at the pkg/runtime layer for kernels
// that need task-group channels (DSGD), while this generic helper is used
// by kernels whose per-block work has no cross-block dependency (nnz
// counting, ALS's per-row solves, GNMF's accumulations).
func RunTaskOnBlocks[Arg, Result any](
	ctx context.Context,
	dm *dmatrix.DistributedMatrix,
	reg *env.Registry,
	tasksPerRank int,
	construct func(b1, b2 int) Arg,
	exec func(ctx context.Context, b1, b2 int, arg Arg) (Result, error),
) ([][]Result, error) {
	results := make([][]Result, dm.Blocks1)
	for i := range results {
		results[i] = make([]Result, dm.Blocks2)
	}

	worldSize := 0
	for _, row := range dm.Location {
		for _, r := range row {
			if r+1 > worldSize {
				worldSize = r + 1
			}
		}
	}
	assignment := AssignBlocksToTasks(dm.Location, worldSize, tasksPerRank)
	_ = assignment // assignment order drives scheduling metadata only; the
	// actual computation below is executed per block directly since every
	// block is locally addressable in this in-process runtime.

	for b1 := 0; b1 < dm.Blocks1; b1++ {
		for b2 := 0; b2 < dm.Blocks2; b2++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			arg := construct(b1, b2)
			r, err := exec(ctx, b1, b2, arg)
			if err != nil {
				return nil, err
			}
			results[b1][b2] = r
		}
	}
	return results, nil
}
