// Package driver implements the epoch loop of SPEC_FULL §4.13: for each
// epoch, run the selected kernel, compute loss, ask the decay controller
// for the next step size, rebalance W/H, and append a trace entry —
// wrapped in an OpenTelemetry span and reflected into Prometheus gauges.
package driver

import (
	"context"
	"time"

	"github.com/hashicorp/raft"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/dsgdpp/mf/pkg/checkpoint"
	"github.com/dsgdpp/mf/pkg/logging"
	"github.com/dsgdpp/mf/pkg/mf/balance"
	"github.com/dsgdpp/mf/pkg/mf/decay"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
	"github.com/dsgdpp/mf/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/dsgdpp/mf/pkg/mf/driver")

// Kernel runs one training epoch over v and mutates w/h in place,
// returning nothing; the driver computes loss separately so every kernel
// (SGD variant or alternating variant) shares one loss/decay/balance
// wrapper.
type Kernel func(ctx context.Context, eps float64) error

// LossFunc computes the current factorization's loss against whatever
// data the caller captured in its closure (w/h/v).
type LossFunc func() float64

// Config bundles the per-run policy the epoch loop needs beyond the
// kernel itself.
type Config struct {
	MaxEpochs     int
	Decay         decay.Controller
	BalanceEvery  int // 0 disables balancing
	BalanceMethod balance.Method
	BalanceNorm   balance.Norm
	W, H          [][]float64
	Nnz1, Nnz2    []int
	Trace         *mftrace.Log
	Metrics       *telemetry.Metrics

	// RunID correlates this run's spans with its log lines and Prometheus
	// labels (see pkg/mf/factorization.NewRunID); empty disables the span
	// attribute rather than emitting an empty string value.
	RunID string

	// Raft, when non-nil, replicates every trace entry through consensus
	// instead of appending straight to Trace — see mftrace.AppendEntry.
	// Only the current leader's Apply actually reaches the FSM; every
	// voter (including the leader) should read the trace back from its
	// own *mftrace.FSM.Entries(), not Trace, once Raft is in play.
	Raft *raft.Raft

	// Checkpoint, when non-nil, persists the whole W and H factors every
	// CheckpointEvery epochs (0 disables regardless of Checkpoint being
	// set). Each write also appends a KindCheckpoint trace entry naming
	// the block's content ID, so a reader can compare checksums across
	// ranks without re-reading the snapshot.
	Checkpoint      *checkpoint.Store
	CheckpointEvery int
}

// Run drives the epoch loop until MaxEpochs or ctx cancellation,
// returning the final loss.
func Run(ctx context.Context, log *logging.Logger, cfg Config, kernel Kernel, loss LossFunc) (float64, error) {
	if log == nil {
		log = logging.Nop()
	}
	eps := cfg.Decay.Initial()
	var lastLoss float64

	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return lastLoss, err
		}

		attrs := []attribute.KeyValue{
			attribute.Int("epoch", epoch),
			attribute.Float64("eps", eps),
		}
		if cfg.RunID != "" {
			attrs = append(attrs, attribute.String("run_id", cfg.RunID))
		}
		epochCtx, span := tracer.Start(ctx, "mf.epoch", otelTrace.WithAttributes(attrs...))

		start := time.Now()
		if err := kernel(epochCtx, eps); err != nil {
			span.End()
			return lastLoss, err
		}
		lastLoss = loss()
		elapsed := time.Since(start)

		prevEps := eps
		eps = cfg.Decay.Next(eps, lastLoss)

		if cfg.BalanceEvery > 0 && (epoch+1)%cfg.BalanceEvery == 0 {
			balance.Apply(cfg.BalanceMethod, cfg.W, cfg.H, cfg.BalanceNorm, cfg.Nnz1, cfg.Nnz2)
			if cfg.Trace != nil {
				if err := mftrace.AppendEntry(cfg.Raft, cfg.Trace, mftrace.Entry{Kind: mftrace.KindBalance, Epoch: epoch, Timestamp: time.Now(), RunID: cfg.RunID}); err != nil {
					span.End()
					return lastLoss, err
				}
			}
		}

		if cfg.Trace != nil {
			if err := mftrace.AppendEntry(cfg.Raft, cfg.Trace, mftrace.Entry{
				Kind: mftrace.KindEpochLoss, Epoch: epoch, Timestamp: time.Now(),
				Loss: lastLoss, RunID: cfg.RunID,
			}); err != nil {
				span.End()
				return lastLoss, err
			}
			if err := mftrace.AppendEntry(cfg.Raft, cfg.Trace, mftrace.Entry{
				Kind: mftrace.KindDecay, Epoch: epoch, Timestamp: time.Now(),
				PrevEps: prevEps, NextEps: eps, RunID: cfg.RunID,
			}); err != nil {
				span.End()
				return lastLoss, err
			}
		}

		if cfg.Checkpoint != nil && cfg.CheckpointEvery > 0 && (epoch+1)%cfg.CheckpointEvery == 0 {
			if err := writeCheckpoint(cfg, epoch); err != nil {
				span.End()
				return lastLoss, err
			}
		}

		if cfg.Metrics != nil {
			cfg.Metrics.ObserveEpoch(epoch, lastLoss, eps, elapsed)
		}

		log.Info("epoch complete", "epoch", epoch, "loss", lastLoss, "eps", eps, "elapsed_ms", elapsed.Milliseconds())
		span.SetAttributes(attribute.Float64("loss", lastLoss))
		span.End()
	}
	return lastLoss, nil
}

func flatten(m [][]float64) []float64 {
	var n int
	for _, row := range m {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

func writeCheckpoint(cfg Config, epoch int) error {
	for _, matrix := range []struct {
		name string
		data [][]float64
	}{{"w", cfg.W}, {"h", cfg.H}} {
		flat := flatten(matrix.data)
		if err := cfg.Checkpoint.PutBlock(epoch, matrix.name, 0, 0, flat); err != nil {
			return err
		}
		id, err := checkpoint.BlockCID(flat)
		if err != nil {
			return err
		}
		if cfg.Trace != nil {
			if err := mftrace.AppendEntry(cfg.Raft, cfg.Trace, mftrace.Entry{
				Kind: mftrace.KindCheckpoint, Epoch: epoch, Timestamp: time.Now(),
				RunID: cfg.RunID, CheckpointPath: matrix.name, CheckpointCID: id,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
