package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsgdpp/mf/pkg/checkpoint"
	"github.com/dsgdpp/mf/pkg/mf/balance"
	"github.com/dsgdpp/mf/pkg/mf/decay"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
)

func TestRunStopsAfterMaxEpochsAndReturnsFinalLoss(t *testing.T) {
	losses := []float64{3, 2, 1}
	calls := 0
	cfg := Config{
		MaxEpochs: 3,
		Decay:     decay.Constant{Eps: 0.1},
		Trace:     mftrace.NewLog(),
	}
	final, err := Run(context.Background(), nil, cfg,
		func(ctx context.Context, eps float64) error { return nil },
		func() float64 {
			v := losses[calls]
			calls++
			return v
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1.0, final)
}

func TestRunPropagatesKernelError(t *testing.T) {
	sentinel := assert.AnError
	cfg := Config{MaxEpochs: 5, Decay: decay.Constant{Eps: 0.1}}
	_, err := Run(context.Background(), nil, cfg,
		func(ctx context.Context, eps float64) error { return sentinel },
		func() float64 { return 0 },
	)
	assert.ErrorIs(t, err, sentinel)
}

func TestRunHonorsContextCancellationBeforeFirstEpoch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxEpochs: 5, Decay: decay.Constant{Eps: 0.1}}
	ran := false
	_, err := Run(ctx, nil, cfg,
		func(ctx context.Context, eps float64) error { ran = true; return nil },
		func() float64 { return 0 },
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestRunAppendsTraceEntriesEveryEpoch(t *testing.T) {
	log := mftrace.NewLog()
	cfg := Config{MaxEpochs: 2, Decay: decay.NewBoldDriver(0.1, 1.1, 0.5), Trace: log}
	_, err := Run(context.Background(), nil, cfg,
		func(ctx context.Context, eps float64) error { return nil },
		func() float64 { return 1 },
	)
	require.NoError(t, err)

	var kinds []mftrace.Kind
	for _, e := range log.Entries() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, mftrace.KindEpochLoss)
	assert.Contains(t, kinds, mftrace.KindDecay)
}

func TestRunRebalancesOnSchedule(t *testing.T) {
	w := [][]float64{{4, 0}}
	h := [][]float64{{0, 1}}
	log := mftrace.NewLog()
	cfg := Config{
		MaxEpochs:     2,
		Decay:         decay.Constant{Eps: 0.1},
		BalanceEvery:  1,
		BalanceMethod: balance.Simple,
		BalanceNorm:   balance.L2,
		W:             w,
		H:             h,
		Trace:         log,
	}
	_, err := Run(context.Background(), nil, cfg,
		func(ctx context.Context, eps float64) error { return nil },
		func() float64 { return 1 },
	)
	require.NoError(t, err)

	found := false
	for _, e := range log.Entries() {
		if e.Kind == mftrace.KindBalance {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunWritesCheckpointsOnScheduleAndTracesTheirCID(t *testing.T) {
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	w := [][]float64{{1, 2}}
	h := [][]float64{{3, 4}}
	log := mftrace.NewLog()
	cfg := Config{
		MaxEpochs:       2,
		Decay:           decay.Constant{Eps: 0.1},
		W:               w,
		H:               h,
		Trace:           log,
		Checkpoint:      store,
		CheckpointEvery: 1,
	}
	_, err = Run(context.Background(), nil, cfg,
		func(ctx context.Context, eps float64) error { return nil },
		func() float64 { return 1 },
	)
	require.NoError(t, err)

	got, err := store.GetBlock(0, "w", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	var checkpoints int
	for _, e := range log.Entries() {
		if e.Kind == mftrace.KindCheckpoint {
			checkpoints++
			assert.NotEmpty(t, e.CheckpointCID)
		}
	}
	assert.Equal(t, 4, checkpoints) // w and h, each epoch
}
