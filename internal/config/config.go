// Package config loads the layered configuration of a single
// factorization run: cluster membership, matrix sources, kernel choice
// and tuning knobs. Configuration is read from a YAML file via viper with
// environment variable overrides (MF_<SECTION>_<FIELD>), matching the
// shared CLI flag contract of every training tool.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// Config is the complete configuration for one training run.
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Decay     DecayConfig     `yaml:"decay"`
	Balance   BalanceConfig   `yaml:"balance"`
	Trace     TraceConfig     `yaml:"trace"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// MatrixConfig names the input/output files and the factorization shape.
type MatrixConfig struct {
	InputFile     string `yaml:"input_file"`
	InputTestFile string `yaml:"input_test_file"`
	InputRowFile  string `yaml:"input_row_file"`
	InputColFile  string `yaml:"input_col_file"`
	OutputRowFile string `yaml:"output_row_file"`
	OutputColFile string `yaml:"output_col_file"`
	Rank          int    `yaml:"rank"`
	Seed          uint32 `yaml:"seed"`
}

// ClusterConfig describes the fixed set of ranks participating in a run.
type ClusterConfig struct {
	// Peers lists static "host:port" (or multiaddr) endpoints, one per
	// rank, used when not running inside Kubernetes.
	Peers        []string `yaml:"peers"`
	Rank         int      `yaml:"rank"`
	TasksPerRank int      `yaml:"tasks_per_rank"`
	PollDelayUs  int      `yaml:"poll_delay_us"`
	// KubernetesService, when set, enables pkg/cluster's Endpoints-based
	// peer discovery instead of the static Peers list.
	KubernetesService   string `yaml:"kubernetes_service"`
	KubernetesNamespace string `yaml:"kubernetes_namespace"`
	KubernetesPort      int    `yaml:"kubernetes_port"`

	// TransportListenAddr, when set, starts a pkg/runtime/transport.Node
	// listening on this libp2p multiaddr and wires it as the process's
	// TaskManager.RemoteDialer for cross-process SpawnGroup calls.
	// TransportPeers are the matching libp2p dial multiaddrs (each
	// ".../p2p/<peerID>"), one per rank in Peers' order — a separate list
	// from Peers because Raft's TCP transport and libp2p dialing use
	// different address encodings for the same physical ranks.
	TransportListenAddr string   `yaml:"transport_listen_addr"`
	TransportPeers      []string `yaml:"transport_peers"`

	// KademliaRendezvous, when set, enables pkg/cluster.KademliaMembership
	// ahead of KubernetesService and Peers: ranks discover each
	// other through a libp2p DHT advertised under this rendezvous string
	// instead of a fixed peer list, for autoscaled deployments where the
	// rank count isn't known ahead of time. Requires TransportListenAddr
	// so there is already a libp2p host to run the DHT on.
	KademliaRendezvous    string        `yaml:"kademlia_rendezvous"`
	KademliaFindTimeout   time.Duration `yaml:"kademlia_find_timeout"`
}

// KernelConfig selects the epoch kernel and its training-point order.
type KernelConfig struct {
	Kind          string `yaml:"kind"`           // dsgd|dsgd-plus|asgd|psgd|als|gnmf|lee01-gkl
	SgdOrder      string `yaml:"sgd_order"`      // SEQ|WR|WOR
	StratumOrder  string `yaml:"stratum_order"`  // SEQ|RSEQ|WR|WOR|COWOR
	Update        string `yaml:"update"`         // Name(args)
	Regularize    string `yaml:"regularize"`     // Name(args)
	Loss          string `yaml:"loss"`           // Name(args)
	Abs           bool   `yaml:"abs"`
	TruncateLo    float64 `yaml:"truncate_lo"`
	TruncateHi    float64 `yaml:"truncate_hi"`
	Truncate      bool    `yaml:"truncate"`
	MapReduce     bool    `yaml:"map_reduce"`
	Epochs        int     `yaml:"epochs"`
	Lambda        float64 `yaml:"lambda"`
}

// DecayConfig configures the step-size controller (Name(args) form, same
// grammar as Update/Regularize/Loss).
type DecayConfig struct {
	Spec string `yaml:"spec"`
}

// BalanceConfig configures the between-epoch rescaling pass.
type BalanceConfig struct {
	Type   string `yaml:"type"`   // None|L2|Nzl2
	Method string `yaml:"method"` // Simple|Optimal — CLI default is Simple
}

// TraceConfig configures where/how the run's trace is persisted.
type TraceConfig struct {
	Path    string `yaml:"path"`
	VarName string `yaml:"var_name"`
	RaftDir string `yaml:"raft_dir"`
}

// TelemetryConfig configures metrics/tracing export.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	JaegerURL   string `yaml:"jaeger_url"`
}

// Load reads Config from path (YAML) layered with MF_* environment
// overrides, and validates it. A validation failure is returned as a
// *mferrors.ConfigError so callers can map it to exit code 1 without
// touching any matrix data.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MF")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, mferrors.NewIOError(fmt.Sprintf("reading config %s", path), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mferrors.NewConfigError("decoding configuration", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the zero-file configuration a CLI tool falls back to
// when no --config flag was given, with the same defaults Load applies
// via setDefaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return &Config{
		Cluster: ClusterConfig{TasksPerRank: v.GetInt("cluster.tasks_per_rank"), PollDelayUs: v.GetInt("cluster.poll_delay_us")},
		Kernel: KernelConfig{
			SgdOrder:     v.GetString("kernel.sgd_order"),
			StratumOrder: v.GetString("kernel.stratum_order"),
			Epochs:       v.GetInt("kernel.epochs"),
		},
		Balance: BalanceConfig{Type: v.GetString("balance.type"), Method: v.GetString("balance.method")},
		Matrix:  MatrixConfig{Rank: v.GetInt("matrix.rank")},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.tasks_per_rank", 1)
	v.SetDefault("cluster.poll_delay_us", 0)
	v.SetDefault("kernel.sgd_order", "WOR")
	v.SetDefault("kernel.stratum_order", "SEQ")
	v.SetDefault("kernel.epochs", 10)
	v.SetDefault("balance.type", "None")
	v.SetDefault("balance.method", "Simple")
	v.SetDefault("matrix.rank", 10)
}
