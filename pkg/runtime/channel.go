// Package runtime implements the concurrency runtime of SPEC_FULL §4.1: a
// per-node TaskManager that spawns tagged tasks and wires them into
// point-to-point Channels and pairwise channel meshes, using goroutines in
// place of the source's MPI-backed thread pool.
package runtime

import (
	"context"
	"fmt"
	stdruntime "runtime"
	"sync"
	"time"
)

// Endpoint identifies one side of a Channel: a rank and a tag allocated by
// that rank's TaskManager.
type Endpoint struct {
	Rank int
	Tag  uint64
}

func (e Endpoint) String() string { return fmt.Sprintf("%d#%d", e.Rank, e.Tag) }

// Msg is the payload type carried over a Channel. Using `any` (rather than
// a generic Channel[T]) mirrors the source's single logical-message
// marshalling: multiple values are bundled into one Msg before sending, so
// order is observable at the receiver exactly once per logical send.
type Msg struct {
	Values []interface{}
}

// Channel is a duplex, FIFO-ordered point-to-point link between two
// endpoints. Within one process it is backed by a pair of buffered Go
// channels; across processes pkg/runtime/transport implements the same
// interface over libp2p streams.
type Channel interface {
	Local() Endpoint
	Remote() Endpoint

	Send(ctx context.Context, values ...interface{}) error
	Recv(ctx context.Context) (Msg, error)

	// ISend/IRecv return immediately; the returned function blocks until
	// the operation completes (the source's "finalizeRequest" reaping is
	// implicit in calling the function).
	ISend(ctx context.Context, values ...interface{}) func() error
	IRecv(ctx context.Context) func() (Msg, error)

	// EconomicSend/EconomicRecv poll at pollDelay instead of blocking the
	// OS thread, yielding the goroutine between polls — the primary
	// back-pressure mechanism of §5.
	EconomicSend(ctx context.Context, pollDelay time.Duration, values ...interface{}) error
	EconomicRecv(ctx context.Context, pollDelay time.Duration) (Msg, error)

	Close() error
}

// localChannel implements Channel for two tasks in the same process.
type localChannel struct {
	local, remote Endpoint
	out           chan Msg
	in            chan Msg
	closeOnce     sync.Once
	closed        chan struct{}
}

// NewLocalPair builds the two ends of an in-process channel.
func NewLocalPair(a, b Endpoint, buffer int) (Channel, Channel) {
	ab := make(chan Msg, buffer)
	ba := make(chan Msg, buffer)
	closed := make(chan struct{})
	cA := &localChannel{local: a, remote: b, out: ab, in: ba, closed: closed}
	cB := &localChannel{local: b, remote: a, out: ba, in: ab, closed: closed}
	return cA, cB
}

func (c *localChannel) Local() Endpoint  { return c.local }
func (c *localChannel) Remote() Endpoint { return c.remote }

func (c *localChannel) Send(ctx context.Context, values ...interface{}) error {
	select {
	case c.out <- Msg{Values: values}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("runtime: channel %v->%v closed", c.local, c.remote)
	}
}

func (c *localChannel) Recv(ctx context.Context) (Msg, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-ctx.Done():
		return Msg{}, ctx.Err()
	case <-c.closed:
		return Msg{}, fmt.Errorf("runtime: channel %v->%v closed", c.remote, c.local)
	}
}

func (c *localChannel) ISend(ctx context.Context, values ...interface{}) func() error {
	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, values...) }()
	return func() error { return <-done }
}

func (c *localChannel) IRecv(ctx context.Context) func() (Msg, error) {
	type result struct {
		m   Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.Recv(ctx)
		done <- result{m, err}
	}()
	return func() (Msg, error) {
		r := <-done
		return r.m, r.err
	}
}

func (c *localChannel) EconomicSend(ctx context.Context, pollDelay time.Duration, values ...interface{}) error {
	wait := c.ISend(ctx, values...)
	for {
		select {
		case <-time.After(pollDelay):
			stdruntime.Gosched()
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		done := make(chan error, 1)
		go func() { done <- wait() }()
		select {
		case err := <-done:
			return err
		case <-time.After(pollDelay):
			stdruntime.Gosched()
			continue
		}
	}
}

func (c *localChannel) EconomicRecv(ctx context.Context, pollDelay time.Duration) (Msg, error) {
	wait := c.IRecv(ctx)
	for {
		done := make(chan struct {
			m   Msg
			err error
		}, 1)
		go func() {
			m, err := wait()
			done <- struct {
				m   Msg
				err error
			}{m, err}
		}()
		select {
		case r := <-done:
			return r.m, r.err
		case <-time.After(pollDelay):
			stdruntime.Gosched()
			continue
		}
	}
}

func (c *localChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// SendAll sends distinct values to each channel (sendEach in the source).
func SendAll(ctx context.Context, channels []Channel, values [][]interface{}) error {
	for i, ch := range channels {
		if err := ch.Send(ctx, values[i]...); err != nil {
			return err
		}
	}
	return nil
}

// RecvAll receives from every channel in order, failing fast on the first
// error. When ignoreInactive is set, nil channels (the self-entry of a
// pairwise mesh) are skipped.
func RecvAll(ctx context.Context, channels []Channel, ignoreInactive bool) ([]Msg, error) {
	out := make([]Msg, len(channels))
	for i, ch := range channels {
		if ch == nil {
			if ignoreInactive {
				continue
			}
			return nil, fmt.Errorf("runtime: inactive channel at index %d", i)
		}
		m, err := ch.Recv(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// EconomicRecvAll is the economic-polling analogue of RecvAll, used by the
// block executor and the driver loop to await task-group completion
// without blocking an OS thread per outstanding request.
func EconomicRecvAll(ctx context.Context, channels []Channel, pollDelay time.Duration, ignoreInactive bool) ([]Msg, error) {
	out := make([]Msg, len(channels))
	for i, ch := range channels {
		if ch == nil {
			if ignoreInactive {
				continue
			}
			return nil, fmt.Errorf("runtime: inactive channel at index %d", i)
		}
		m, err := ch.EconomicRecv(ctx, pollDelay)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Barrier blocks until every channel has both sent and received an empty
// synchronization message.
func Barrier(ctx context.Context, channels []Channel) error {
	for _, ch := range channels {
		if err := ch.Send(ctx); err != nil {
			return err
		}
	}
	for _, ch := range channels {
		if _, err := ch.Recv(ctx); err != nil {
			return err
		}
	}
	return nil
}
