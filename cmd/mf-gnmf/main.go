// Command mf-gnmf runs multiplicative-update NMF (GNMF under squared
// loss, or Lee & Seung 2001 under generalized KL divergence) on a sparse
// matrix loaded from a Matrix Market file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dsgdpp/mf/internal/clusterboot"
	"github.com/dsgdpp/mf/internal/config"
	"github.com/dsgdpp/mf/pkg/checkpoint"
	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/logging"
	"github.com/dsgdpp/mf/pkg/matrixio"
	"github.com/dsgdpp/mf/pkg/mf/alternating"
	"github.com/dsgdpp/mf/pkg/mf/decay"
	"github.com/dsgdpp/mf/pkg/mf/driver"
	"github.com/dsgdpp/mf/pkg/mf/factorization"
	"github.com/dsgdpp/mf/pkg/mf/functorspec"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
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
	useGkl  bool

	balanceSpec   string
	balanceMethod string
	tracePath     string

	checkpointDir   string
	checkpointEvery int
)

func main() {
	root := &cobra.Command{Use: "mf-gnmf", Short: "Multiplicative-update non-negative matrix factorization", Version: version}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&input, "input", "", "path to a Matrix Market input file")
	root.PersistentFlags().IntVar(&rank, "rank", 10, "factorization rank")
	root.PersistentFlags().IntVar(&epochs, "epochs", 50, "number of multiplicative-update iterations")
	root.PersistentFlags().Uint32Var(&seed, "seed", 1, "root seed for per-task RNG derivation")
	root.PersistentFlags().BoolVar(&useGkl, "gkl", false, "use the Lee-01 generalized-KL update instead of squared loss")
	root.PersistentFlags().StringVar(&balanceSpec, "balance", "None", "rescaling norm: None, L2 or Nzl2")
	root.PersistentFlags().StringVar(&balanceMethod, "balance-method", "Simple", "rebalancing method: Simple or Optimal")
	root.PersistentFlags().StringVar(&tracePath, "trace", "", "write the R-style trace table to this path on exit")
	root.PersistentFlags().StringVar(&checkpointDir, "checkpoint-dir", "", "persist W/H to a LevelDB store at this path")
	root.PersistentFlags().IntVar(&checkpointEvery, "checkpoint-every", 10, "epochs between checkpoints (ignored unless --checkpoint-dir is set)")
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		color.Red("mf-gnmf: %v", err)
		os.Exit(mferrors.ExitCode(err))
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one multiplicative-update training session",
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
				return mferrors.NewConfigError("mf-gnmf: --input is required", nil)
			}
			bal, err := functorspec.Balance(balanceSpec)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			balMethod, err := functorspec.BalanceMethod(balanceMethod)
			if err != nil {
				return mferrors.NewConfigError(err.Error(), err)
			}
			f, err := os.Open(input)
			if err != nil {
				return mferrors.NewIOError("mf-gnmf: opening input", err)
			}
			defer f.Close()
			v, err := matrixio.ReadMatrixMarket(f)
			if err != nil {
				return err
			}
			log.Info("loaded matrix", "rows", v.M, "cols", v.N, "nnz", v.Nnz())

			rng := rngsplit.NewRand(rngsplit.DeriveTaskSeed(seed, 0, 0))
			w := make([][]float64, v.M)
			h := make([][]float64, v.N)
			for i := range w {
				w[i] = make([]float64, rank)
				for k := range w[i] {
					w[i][k] = rng.NextFloat64() + 0.01 // keep strictly positive for the multiplicative update
				}
			}
			for j := range h {
				h[j] = make([]float64, rank)
				for k := range h[j] {
					h[j][k] = rng.NextFloat64() + 0.01
				}
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

			metrics := telemetry.NewMetrics(reg, "mf_gnmf", string(runID))

			loss := func() float64 {
				var s float64
				for p := 0; p < v.Nnz(); p++ {
					i, j, x := v.Row[p], v.Col[p], v.Val[p]
					var pred float64
					for k := range w[i] {
						pred += w[i][k] * h[j][k]
					}
					diff := x - pred
					s += diff * diff
				}
				return s
			}

			traceLog := mftrace.NewLog()
			balanceEvery := 0
			if bal.Enabled {
				balanceEvery = 5
			}
			dcfg := driver.Config{
				MaxEpochs:     epochs,
				Decay:         decay.Constant{Eps: 1},
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
				if useGkl {
					alternating.Lee01GklStep(v, w, h)
					alternating.Lee01GklStepTranspose(v, h, w)
				} else {
					alternating.GNMFStep(v, w, h)
					alternating.GNMFStepTranspose(v, h, w)
				}
				return nil
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
