package blockexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/dmatrix"
	"github.com/dsgdpp/mf/pkg/env"
)

func TestAssignBlocksToTasksBalancesWithinRank(t *testing.T) {
	locations := [][]int{
		{0, 0, 1},
		{0, 1, 1},
	}
	assignment := AssignBlocksToTasks(locations, 2, 2)

	counts := make(map[int]int)
	for _, g := range assignment {
		counts[g]++
	}
	// 6 blocks total, 2 ranks x 2 tasks = 4 groups; every block must land
	// in some group and no group differs from another by more than one.
	assert.Len(t, assignment, 6)
	min, max := -1, -1
	for _, c := range counts {
		if min == -1 || c < min {
			min = c
		}
		if max == -1 || c > max {
			max = c
		}
	}
	assert.LessOrEqual(t, max-min, 1)
}

func TestAssignBlocksToTasksOnlyUsesOwningRank(t *testing.T) {
	locations := [][]int{{0, 1}}
	assignment := AssignBlocksToTasks(locations, 2, 1)
	// tasksPerRank=1 so groupID == rank for every block.
	assert.Equal(t, 0, assignment[BlockKey{B1: 0, B2: 0}])
	assert.Equal(t, 1, assignment[BlockKey{B1: 0, B2: 1}])
}

func TestRunTaskOnBlocksVisitsEveryBlockExactlyOnce(t *testing.T) {
	d := dmatrix.New("V", 4, 4, 2, 2, 1, true)
	reg := env.NewRegistry()

	visited := make(map[blockCoord]bool)
	results, err := RunTaskOnBlocks(
		context.Background(), d, reg, 1,
		func(b1, b2 int) blockCoord { return blockCoord{b1, b2} },
		func(ctx context.Context, b1, b2 int, arg blockCoord) (int, error) {
			visited[arg] = true
			return b1*10 + b2, nil
		},
	)
	require.NoError(t, err)
	require.Len(t, results, d.Blocks1)
	assert.Len(t, visited, d.Blocks1*d.Blocks2)
	assert.Equal(t, 11, results[1][1])
}

type blockCoord struct{ b1, b2 int }

func TestRunTaskOnBlocksPropagatesExecError(t *testing.T) {
	d := dmatrix.New("V", 2, 2, 1, 1, 1, true)
	reg := env.NewRegistry()
	sentinel := assert.AnError

	_, err := RunTaskOnBlocks(
		context.Background(), d, reg, 1,
		func(b1, b2 int) struct{} { return struct{}{} },
		func(ctx context.Context, b1, b2 int, arg struct{}) (int, error) {
			return 0, sentinel
		},
	)
	assert.ErrorIs(t, err, sentinel)
}

func TestRunTaskOnBlocksHonorsCancellation(t *testing.T) {
	d := dmatrix.New("V", 4, 4, 2, 2, 1, true)
	reg := env.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunTaskOnBlocks(
		ctx, d, reg, 1,
		func(b1, b2 int) struct{} { return struct{}{} },
		func(ctx context.Context, b1, b2 int, arg struct{}) (int, error) { return 0, nil },
	)
	assert.ErrorIs(t, err, context.Canceled)
}
