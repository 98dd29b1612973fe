package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// FSM implements raft.FSM over the trace log: every Apply replays one
// JSON-encoded Entry into the local tail, so every rank that is caught
// up on the Raft log holds an identical ordered trace regardless of
// which rank produced which entry.
type FSM struct {
	mu  sync.Mutex
	log *Log
}

func NewFSM() *FSM { return &FSM{log: NewLog()} }

func (f *FSM) Apply(l *raft.Log) interface{} {
	e, err := Unmarshal(l.Data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.log.Append(e)
	f.mu.Unlock()
	return nil
}

func (f *FSM) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.log.entries))
	copy(out, f.log.entries)
	return out
}

type fsmSnapshot struct {
	entries []Entry
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]Entry, len(f.log.entries))
	copy(entries, f.log.entries)
	return &fsmSnapshot{entries: entries}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	for _, e := range s.entries {
		b, err := Marshal(e)
		if err != nil {
			sink.Cancel()
			return err
		}
		if _, err := sink.Write(append(b, '\n')); err != nil {
			sink.Cancel()
			return err
		}
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	dec := newLineDecoder(rc)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = NewLog()
	for {
		line, ok := dec.next()
		if !ok {
			break
		}
		e, err := Unmarshal(line)
		if err != nil {
			return fmt.Errorf("trace: restore snapshot: %w", err)
		}
		f.log.Append(e)
	}
	return nil
}

// lineDecoder is a tiny newline-delimited reader, avoiding a bufio.Scanner
// token-size ceiling for what are normally short JSON lines.
type lineDecoder struct {
	r   io.Reader
	buf []byte
}

func newLineDecoder(r io.Reader) *lineDecoder { return &lineDecoder{r: r} }

func (d *lineDecoder) next() ([]byte, bool) {
	for {
		if i := indexByte(d.buf, '\n'); i >= 0 {
			line := d.buf[:i]
			d.buf = d.buf[i+1:]
			if len(line) == 0 {
				continue
			}
			return line, true
		}
		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			if len(d.buf) > 0 {
				line := d.buf
				d.buf = nil
				return line, true
			}
			return nil, false
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
