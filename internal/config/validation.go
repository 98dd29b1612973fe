package config

import (
	"fmt"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

var validBalanceTypes = map[string]bool{"None": true, "L2": true, "Nzl2": true}
var validBalanceMethods = map[string]bool{"Simple": true, "Optimal": true}
var validSgdOrders = map[string]bool{"SEQ": true, "WR": true, "WOR": true}
var validStratumOrders = map[string]bool{"SEQ": true, "RSEQ": true, "WR": true, "WOR": true, "COWOR": true}

// Validate checks option combinations that must be rejected before any
// data is read, per the ConfigError contract of §7. It never inspects the
// matrix files themselves (that is ShapeError's job, raised later).
func Validate(cfg *Config) error {
	if cfg.Matrix.InputFile == "" {
		return mferrors.NewConfigError("matrix.input_file is required", nil)
	}
	if cfg.Matrix.Rank <= 0 {
		return mferrors.NewConfigError(fmt.Sprintf("matrix.rank must be positive, got %d", cfg.Matrix.Rank), nil)
	}
	if cfg.Cluster.TasksPerRank <= 0 {
		return mferrors.NewConfigError("cluster.tasks_per_rank must be positive", nil)
	}
	if cfg.Cluster.PollDelayUs < 0 {
		return mferrors.NewConfigError("cluster.poll_delay_us must be non-negative", nil)
	}
	if cfg.Kernel.SgdOrder != "" && !validSgdOrders[cfg.Kernel.SgdOrder] {
		return mferrors.NewConfigError(fmt.Sprintf("unknown sgd order %q", cfg.Kernel.SgdOrder), nil)
	}
	if cfg.Kernel.StratumOrder != "" && !validStratumOrders[cfg.Kernel.StratumOrder] {
		return mferrors.NewConfigError(fmt.Sprintf("unknown stratum order %q", cfg.Kernel.StratumOrder), nil)
	}
	if cfg.Kernel.Epochs < 0 {
		return mferrors.NewConfigError("kernel.epochs must be non-negative", nil)
	}
	if cfg.Kernel.Truncate && cfg.Kernel.TruncateLo > cfg.Kernel.TruncateHi {
		return mferrors.NewConfigError("kernel.truncate_lo must be <= truncate_hi", nil)
	}
	if cfg.Kernel.Abs && cfg.Kernel.Truncate {
		return mferrors.NewConfigError("kernel.abs and kernel.truncate are mutually exclusive wrappers", nil)
	}
	bt := cfg.Balance.Type
	if bt == "" {
		bt = "None"
	}
	if !validBalanceTypes[bt] {
		return mferrors.NewConfigError(fmt.Sprintf("unknown balance type %q", cfg.Balance.Type), nil)
	}
	bm := cfg.Balance.Method
	if bm == "" {
		bm = "Simple"
	}
	if !validBalanceMethods[bm] {
		return mferrors.NewConfigError(fmt.Sprintf("unknown balance method %q", cfg.Balance.Method), nil)
	}
	if cfg.Kernel.Kind == "als" && cfg.Kernel.MapReduce {
		return mferrors.NewConfigError("map_reduce only applies to dsgd kernels", nil)
	}
	if cfg.Cluster.TransportListenAddr != "" && len(cfg.Cluster.Peers) > 0 && len(cfg.Cluster.TransportPeers) != len(cfg.Cluster.Peers) {
		return mferrors.NewConfigError("cluster.transport_peers must list exactly one multiaddr per cluster.peers entry", nil)
	}
	if cfg.Cluster.KademliaRendezvous != "" && cfg.Cluster.TransportListenAddr == "" {
		return mferrors.NewConfigError("cluster.kademlia_rendezvous requires cluster.transport_listen_addr", nil)
	}
	return nil
}
