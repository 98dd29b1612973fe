package trace

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrips(t *testing.T) {
	e := Entry{Kind: KindEpochLoss, Epoch: 4, Loss: 1.5, Timestamp: time.Unix(1000, 0).UTC()}
	b, err := Marshal(e)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Epoch, got.Epoch)
	assert.Equal(t, e.Loss, got.Loss)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
}

func TestLogAppendPreservesOrder(t *testing.T) {
	l := NewLog()
	l.Append(Entry{Kind: KindEpochLoss, Epoch: 0})
	l.Append(Entry{Kind: KindDecay, Epoch: 0})
	require.Len(t, l.Entries(), 2)
	assert.Equal(t, KindEpochLoss, l.Entries()[0].Kind)
	assert.Equal(t, KindDecay, l.Entries()[1].Kind)
}

func TestKindStringCoversEveryVariant(t *testing.T) {
	cases := map[Kind]string{
		KindEpochLoss:       "epoch_loss",
		KindDecay:           "decay",
		KindBalance:         "balance",
		KindCheckpoint:      "checkpoint",
		KindStratumSchedule: "stratum_schedule",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestWriteRTableRendersHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Kind: KindEpochLoss, Epoch: 1, Loss: 0.5},
		{Kind: KindDecay, Epoch: 1, PrevEps: 0.1, NextEps: 0.09},
	}
	require.NoError(t, WriteRTable(&buf, entries))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "kind epoch loss prev_eps next_eps", lines[0])
	assert.Contains(t, lines[1], "epoch_loss")
	assert.Contains(t, lines[2], "decay")
}
