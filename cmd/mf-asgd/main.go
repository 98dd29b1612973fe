// Command mf-asgd runs Hogwild-style Asynchronous SGD factorization of a
// sparse matrix loaded from a Matrix Market file, using nWorkers
// goroutines racing under per-row locks instead of DSGD's disjoint block
// partition.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dsgdpp/mf/internal/clusterboot"
	"github.com/dsgdpp/mf/internal/config"
	"github.com/dsgdpp/mf/pkg/checkpoint"
	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/logging"
	"github.com/dsgdpp/mf/pkg/matrixio"
	"github.com/dsgdpp/mf/pkg/mf/decay"
	"github.com/dsgdpp/mf/pkg/mf/driver"
	"github.com/dsgdpp/mf/pkg/mf/factorization"
	"github.com/dsgdpp/mf/pkg/mf/functorspec"
	"github.com/dsgdpp/mf/pkg/mf/sgd"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
	"github.com/dsgdpp/mf/pkg/mf/update"
	"github.com/dsgdpp/mf/pkg/rngsplit"
	"github.com/dsgdpp/mf/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	version = "dev"
	cfgFile string
	input   string
	rank    int
	epochs  int
	seed    uint32
	workers int

	updateSpec string
	lossSpec   string
	decaySpec  string
	abs        bool
	truncate   string

	balanceSpec   string
	balanceMethod string
	tracePath     string

	checkpointDir   string
	checkpointEvery int
)

func main() {
	root := &cobra.Command{Use: "mf-asgd", Short: "Asynchronous (Hogwild-style) SGD matrix factorization", Version: version}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&input, "input", "", "path to a Matrix Market input file")
	root.PersistentFlags().IntVar(&rank, "rank", 10, "factorization rank")
	root.PersistentFlags().IntVar(&epochs, "epochs", 20, "number of epochs")
	root.PersistentFlags().Uint32Var(&seed, "seed", 1, "root seed for per-task RNG derivation")
	root.PersistentFlags().IntVar(&workers, "workers", runtime.NumCPU(), "number of concurrent worker goroutines")

	root.PersistentFlags().StringVar(&updateSpec, "update", "NzslL2(0.05)", "update functor, as Name(args)")
	root.PersistentFlags().StringVar(&lossSpec, "loss", "Nzsl", "loss functor, as Name(args)")
	root.PersistentFlags().StringVar(&decaySpec, "decay", "BoldDriver(0.01,1.05,0.5)", "decay controller, as Name(args)")
	root.PersistentFlags().BoolVar(&abs, "abs", false, "clamp W/H to their absolute value after every update")
	root.PersistentFlags().StringVar(&truncate, "truncate", "", "clamp W/H to \"lo,hi\" after every update")

	root.PersistentFlags().StringVar(&balanceSpec, "balance", "L2", "rebalancing norm: None, L2 or Nzl2")
	root.PersistentFlags().StringVar(&balanceMethod, "balance-method", "Simple", "rebalancing method: Simple or Optimal")
	root.PersistentFlags().StringVar(&tracePath, "trace", "", "write the R-style trace table to this path on exit")
	root.PersistentFlags().StringVar(&checkpointDir, "checkpoint-dir", "", "persist W/H to a LevelDB store at this path")
	root.PersistentFlags().IntVar(&checkpointEvery, "checkpoint-every", 10, "epochs between checkpoints (ignored unless --checkpoint-dir is set)")
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		color.Red("mf-asgd: %v", err)
		os.Exit(mferrors.ExitCode(err))
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ASGD training session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			runID := factorization.NewRunID()
			log := logging.New(logging.Options{Pretty: true, RunID: string(runID)})

			var cboot *clusterboot.Result
			if cfgFile != "" {
				fcfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				cboot, err = clusterboot.Bootstrap(ctx, log, fcfg, os.Getenv("POD_IP"))
				if err != nil {
					return err
				}
				defer cboot.Close()
				if err := clusterboot.PingPeers(ctx, log, cboot); err != nil {
					return err
				}
			}

			if input == "" {
				return mferrors.NewConfigError("mf-asgd: --input is required", nil)
			}

			updateFn, err := parseUpdateFlag(updateSpec)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			lossFn, err := parseLossFlag(lossSpec)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			decayCtrl, err := parseDecayFlag(decaySpec)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			bal, err := functorspec.Balance(balanceSpec)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			balMethod, err := functorspec.BalanceMethod(balanceMethod)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			var truncateBounds *[2]float64
			if truncate != "" {
				b, err := parseTruncate(truncate)
				if err != nil {
					return mferrors.NewConfigError(err.Error(), err)
				}
				truncateBounds = &b
			}
			updateFn = functorspec.Wrap(updateFn, abs, truncateBounds)

			f, err := os.Open(input)
			if err != nil {
				return mferrors.NewIOError("mf-asgd: opening input", err)
			}
			defer f.Close()
			v, err := matrixio.ReadMatrixMarket(f)
			if err != nil {
				return err
			}
			log.Info("loaded matrix", "rows", v.M, "cols", v.N, "nnz", v.Nnz(), "workers", workers)

			rng := rngsplit.NewRand(rngsplit.DeriveTaskSeed(seed, 0, 0))
			w := make([][]float64, v.M)
			h := make([][]float64, v.N)
			for i := range w {
				w[i] = make([]float64, rank)
				for k := range w[i] {
					w[i][k] = rng.NextFloat64()
				}
			}
			for j := range h {
				h[j] = make([]float64, rank)
				for k := range h[j] {
					h[j][k] = rng.NextFloat64()
				}
			}

			st := &sgd.AsgdState{
				W: w, H: h,
				WLocks: update.NewRowLocks(len(w)),
				HLocks: update.NewRowLocks(len(h)),
			}

			if _, err := factorization.New(v, w, h); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			var store *checkpoint.Store
			if checkpointDir != "" {
				store, err = checkpoint.Open(checkpointDir)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			metrics := telemetry.NewMetrics(reg, "mf_asgd", string(runID))

			loss := func() float64 {
				return lossFn(w, h, v.Row, v.Col, v.Val)
			}

			traceLog := mftrace.NewLog()
			balanceEvery := 0
			if bal.Enabled {
				balanceEvery = 5
			}
			dcfg := driver.Config{
				MaxEpochs:     epochs,
				Decay:         decayCtrl,
				BalanceEvery:  balanceEvery,
				BalanceMethod: balMethod,
				BalanceNorm:   bal.Norm,
				W:             w,
				H:             h,
				Trace:         traceLog,
				Metrics:       metrics,
				RunID:         string(runID),
			}
			if cboot != nil && cboot.Raft != nil {
				dcfg.Raft = cboot.Raft
			}
			if store != nil {
				dcfg.Checkpoint = store
				dcfg.CheckpointEvery = checkpointEvery
			}

			kernel := func(ctx context.Context, eps float64) error {
				return sgd.RunAsgdEpoch(ctx, v, st, updateFn, eps, workers, rng.Split())
			}

			final, err := driver.Run(ctx, log, dcfg, kernel, loss)
			if tracePath != "" {
				entries := traceLog.Entries()
				if cboot != nil && cboot.FSM != nil {
					entries = cboot.FSM.Entries()
				}
				tf, terr := os.Create(tracePath)
				if terr == nil {
					_ = mftrace.WriteRTable(tf, entries)
					tf.Close()
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("final loss: %g\n", final)
			return nil
		},
	}
}

func parseUpdateFlag(s string) (update.Functor, error) {
	sp, err := functorspec.Parse(s)
	if err != nil {
		return nil, err
	}
	return functorspec.UpdateFunctor(sp)
}

func parseLossFlag(s string) (functorspec.LossFunc, error) {
	sp, err := functorspec.Parse(s)
	if err != nil {
		return nil, err
	}
	return functorspec.Loss(sp)
}

func parseDecayFlag(s string) (decay.Controller, error) {
	sp, err := functorspec.Parse(s)
	if err != nil {
		return nil, err
	}
	return functorspec.Decay(sp)
}

func parseTruncate(s string) ([2]float64, error) {
	var lo, hi float64
	if _, err := fmt.Sscanf(s, "%g,%g", &lo, &hi); err != nil {
		return [2]float64{}, fmt.Errorf("mf-asgd: parsing --truncate %q: %w", s, err)
	}
	return [2]float64{lo, hi}, nil
}
