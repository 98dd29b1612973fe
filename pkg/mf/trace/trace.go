// Package trace implements the replicated factorization-progress log of
// SPEC_FULL §4.12: a tagged-variant entry sequence (epoch loss, decay
// adjustment, balance pass, checkpoint marker) appended through Raft so
// every rank observes the same ordered trace, and rendered externally by
// an R-style reader.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Kind tags which variant an Entry carries — the Go answer to the
// original's cyclic polymorphic trace payload.
type Kind int

const (
	KindEpochLoss Kind = iota
	KindDecay
	KindBalance
	KindCheckpoint
	KindStratumSchedule
)

func (k Kind) String() string {
	switch k {
	case KindEpochLoss:
		return "epoch_loss"
	case KindDecay:
		return "decay"
	case KindBalance:
		return "balance"
	case KindCheckpoint:
		return "checkpoint"
	case KindStratumSchedule:
		return "stratum_schedule"
	default:
		return "unknown"
	}
}

// Entry is one immutable record in the trace. Exactly the fields
// relevant to Kind are populated; the rest stay zero-valued. Entries are
// serialized as JSON for Raft's FSM log, matching the teacher's
// preference for human-inspectable replicated records over a binary
// wire format.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Epoch     int       `json:"epoch"`
	Timestamp time.Time `json:"timestamp"`

	// RunID correlates this entry with the log lines and spans of the run
	// that produced it (pkg/mf/factorization.NewRunID); empty for entries
	// appended before RunID tagging existed.
	RunID string `json:"run_id,omitempty"`

	Loss float64 `json:"loss,omitempty"`

	PrevEps float64 `json:"prev_eps,omitempty"`
	NextEps float64 `json:"next_eps,omitempty"`

	BalanceMethod string `json:"balance_method,omitempty"`

	CheckpointPath string `json:"checkpoint_path,omitempty"`
	// CheckpointCID is the content ID (pkg/checkpoint.BlockCID) of the
	// block snapshot named by CheckpointPath, letting an operator compare
	// independently-written block checksums across ranks without reading
	// the snapshot bytes back.
	CheckpointCID string `json:"checkpoint_cid,omitempty"`

	ScheduleOrder string `json:"schedule_order,omitempty"`
}

// Marshal/Unmarshal wrap JSON encoding so the Raft FSM command type and
// any external reader agree on one format.
func Marshal(e Entry) ([]byte, error) { return json.Marshal(e) }

func Unmarshal(b []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(b, &e)
	return e, err
}

// Log is the in-memory tail of the replicated trace kept by the node
// driving the FSM apply loop (see pkg/mf/driver and pkg/cluster for the
// Raft wiring); it also satisfies the simple case of a single-node run
// with no replication.
type Log struct {
	entries []Entry
}

func NewLog() *Log { return &Log{} }

func (l *Log) Append(e Entry) { l.entries = append(l.entries, e) }

func (l *Log) Entries() []Entry { return l.entries }

// WriteRTable renders the trace as a whitespace-delimited table an R
// script can read with read.table(header=TRUE) — the external-renderer
// format named in SPEC_FULL §4.12.
func WriteRTable(w io.Writer, entries []Entry) error {
	if _, err := fmt.Fprintln(w, "kind epoch loss prev_eps next_eps"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %d %g %g %g\n", e.Kind, e.Epoch, e.Loss, e.PrevEps, e.NextEps); err != nil {
			return err
		}
	}
	return nil
}
