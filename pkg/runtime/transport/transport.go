// Package transport implements pkg/runtime's Channel interface over
// libp2p streams, the cross-process analogue of pkg/runtime's in-memory
// NewLocalPair — used whenever two ranks run in separate processes (or
// separate pods) instead of being simulated in one.
package transport

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
	mfruntime "github.com/dsgdpp/mf/pkg/runtime"
)

// ProtocolID is the libp2p protocol every training rank speaks.
const ProtocolID = "/dsgdpp/mf/1.0.0"

func init() {
	// Register the concrete payload types every kernel actually sends over
	// the wire so gob can encode the Msg.Values []interface{} slice without
	// per-call registration.
	gob.Register([]float64{})
	gob.Register([][]float64{})
	gob.Register(int(0))
	gob.Register(int32(0))
	gob.Register(float64(0))
	gob.Register("")
}

// Node wraps a libp2p host and listens for incoming training-protocol
// streams, handing each one to a registered accept callback.
type Node struct {
	Host host.Host

	mu     sync.Mutex
	onOpen func(ch mfruntime.Channel)
}

// NewNode starts a libp2p host listening on listenAddr (a multiaddr
// string, e.g. "/ip4/0.0.0.0/tcp/4001").
func NewNode(listenAddr string) (*Node, error) {
	addr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, mferrors.NewConfigError("transport: bad listen address", err)
	}
	h, err := libp2p.New(libp2p.ListenAddrs(addr))
	if err != nil {
		return nil, mferrors.NewRemoteCallError("transport: starting libp2p host", err)
	}
	n := &Node{Host: h}
	h.SetStreamHandler(ProtocolID, n.handleStream)
	return n, nil
}

// OnOpen registers the callback invoked for every inbound stream,
// wrapped as a Channel, with remote rank left unset since it is
// established application-side (by reading the first handshake
// message) rather than derived from the libp2p transport.
func (n *Node) OnOpen(fn func(ch mfruntime.Channel)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onOpen = fn
}

func (n *Node) handleStream(s network.Stream) {
	ch := newStreamChannel(s, mfruntime.Endpoint{}, mfruntime.Endpoint{})
	n.mu.Lock()
	cb := n.onOpen
	n.mu.Unlock()
	if cb != nil {
		cb(ch)
	}
}

// Dial opens an outbound stream to target, identified by its libp2p
// peer.AddrInfo, returning a Channel tagged with local/remote.
func (n *Node) Dial(ctx context.Context, target peer.AddrInfo, local, remote mfruntime.Endpoint) (mfruntime.Channel, error) {
	if err := n.Host.Connect(ctx, target); err != nil {
		return nil, mferrors.NewRemoteCallError("transport: connect", err)
	}
	s, err := n.Host.NewStream(ctx, target.ID, ProtocolID)
	if err != nil {
		return nil, mferrors.NewRemoteCallError("transport: open stream", err)
	}
	return newStreamChannel(s, local, remote), nil
}

func (n *Node) Close() error { return n.Host.Close() }

// Serve wires node's inbound streams to tm's remote-task dispatch,
// completing the accept side of whatever dialed node's RankDialer.Dial
// calls land on — the pairing SpawnGroup's cross-process fallback needs
// to actually reach a running peer instead of only a local test double.
func Serve(node *Node, tm *mfruntime.TaskManager) {
	node.OnOpen(tm.HandleRemote)
}

// RankDialer implements mfruntime.RemoteDialer over one Node, resolving
// a training rank to a libp2p peer.AddrInfo via a static table — typically
// built from pkg/cluster's StaticMembership/KubernetesMembership peer
// list plus each peer's advertised libp2p identity.
type RankDialer struct {
	Node      *Node
	Addresses map[int]peer.AddrInfo
	Local     mfruntime.Endpoint
}

// Dial satisfies mfruntime.RemoteDialer, opening a fresh stream to rank's
// registered address for every call — SpawnGroup calls it once per group
// member, mirroring the one-NewLocalPair-per-member shape of the
// in-process path.
func (d *RankDialer) Dial(ctx context.Context, rank int) (mfruntime.Channel, error) {
	target, ok := d.Addresses[rank]
	if !ok {
		return nil, mferrors.NewConfigError(fmt.Sprintf("transport: no address for rank %d", rank), nil)
	}
	return d.Node.Dial(ctx, target, d.Local, mfruntime.Endpoint{Rank: rank})
}

// streamChannel implements mfruntime.Channel over one libp2p stream using
// gob framing: one gob.Encoder/gob.Decoder pair lives for the stream's
// lifetime, so gob's own type-descriptor caching makes repeated sends of
// the same concrete types cheap after the first. The encoder writes to
// the stream unbuffered, so every Send reaches the peer without a flush.
type streamChannel struct {
	local, remote mfruntime.Endpoint
	s             network.Stream
	enc           *gob.Encoder
	dec           *gob.Decoder
	mu            sync.Mutex
	closeOnce     sync.Once
}

func newStreamChannel(s network.Stream, local, remote mfruntime.Endpoint) *streamChannel {
	return &streamChannel{
		local: local, remote: remote, s: s,
		enc: gob.NewEncoder(s), dec: gob.NewDecoder(bufio.NewReader(s)),
	}
}

func (c *streamChannel) Local() mfruntime.Endpoint  { return c.local }
func (c *streamChannel) Remote() mfruntime.Endpoint { return c.remote }

func (c *streamChannel) Send(ctx context.Context, values ...interface{}) error {
	done := make(chan error, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		done <- c.enc.Encode(mfruntime.Msg{Values: values})
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *streamChannel) Recv(ctx context.Context) (mfruntime.Msg, error) {
	type result struct {
		m   mfruntime.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		var m mfruntime.Msg
		err := c.dec.Decode(&m)
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		return r.m, r.err
	case <-ctx.Done():
		return mfruntime.Msg{}, ctx.Err()
	}
}

func (c *streamChannel) ISend(ctx context.Context, values ...interface{}) func() error {
	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, values...) }()
	return func() error { return <-done }
}

func (c *streamChannel) IRecv(ctx context.Context) func() (mfruntime.Msg, error) {
	type result struct {
		m   mfruntime.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.Recv(ctx)
		done <- result{m, err}
	}()
	return func() (mfruntime.Msg, error) {
		r := <-done
		return r.m, r.err
	}
}

func (c *streamChannel) EconomicSend(ctx context.Context, pollDelay time.Duration, values ...interface{}) error {
	return c.Send(ctx, values...)
}

func (c *streamChannel) EconomicRecv(ctx context.Context, pollDelay time.Duration) (mfruntime.Msg, error) {
	return c.Recv(ctx)
}

func (c *streamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.s.Close() })
	return err
}
