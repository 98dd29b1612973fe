// Package cluster resolves the set of peer ranks a run should wire
// together: either a static list (single-process simulation, local
// testing) or live discovery against a Kubernetes Endpoints object for a
// headless service fronting the training job's pods.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// Peer is one reachable rank.
type Peer struct {
	Rank    int
	Address string // host:port for pkg/runtime/transport, or a libp2p peer ID from KademliaMembership; empty for in-process peers
}

// StaticMembership returns a fixed peer list for single-process
// simulation or configurations that pin addresses explicitly in config.
func StaticMembership(addresses []string) []Peer {
	peers := make([]Peer, len(addresses))
	for i, addr := range addresses {
		peers[i] = Peer{Rank: i, Address: addr}
	}
	return peers
}

// KubernetesMembership discovers peers from a headless Kubernetes
// Service's Endpoints object (EndpointSlices are not read), ordering
// ranks by pod IP so every
// pod that lists the same Endpoints object computes an identical rank
// assignment without a separate coordination round.
func KubernetesMembership(ctx context.Context, client kubernetes.Interface, namespace, service string, port int) ([]Peer, error) {
	ep, err := client.CoreV1().Endpoints(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, mferrors.NewResourceExhaustion(fmt.Sprintf("cluster: service %s/%s has no endpoints yet", namespace, service), err)
		}
		return nil, mferrors.NewRemoteCallError("cluster: fetching endpoints", err)
	}

	var addrs []string
	for _, subset := range ep.Subsets {
		for _, a := range subset.Addresses {
			addrs = append(addrs, a.IP)
		}
	}
	sort.Strings(addrs)

	peers := make([]Peer, len(addrs))
	for i, ip := range addrs {
		peers[i] = Peer{Rank: i, Address: fmt.Sprintf("%s:%d", ip, port)}
	}
	return peers, nil
}

// SelfRank finds the caller's own rank within peers by matching podIP —
// every pod learns its own address from the Kubernetes downward API
// (status.podIP) and looks itself up here rather than relying on a
// pre-assigned ordinal.
func SelfRank(peers []Peer, podIP string, port int) (int, error) {
	want := fmt.Sprintf("%s:%d", podIP, port)
	for _, p := range peers {
		if p.Address == want {
			return p.Rank, nil
		}
	}
	return -1, mferrors.NewConfigError(fmt.Sprintf("cluster: pod IP %s not present in endpoints", podIP), nil)
}

// KademliaMembership discovers peers through a libp2p Kademlia DHT instead
// of a static list or Kubernetes Endpoints, for deployments where ranks
// aren't known ahead of time (e.g. autoscaled workers joining a shared
// rendezvous string rather than a fixed-size StatefulSet). h must already be
// listening; this bootstraps its own DHT, advertises rendezvous, and
// collects whatever peers answer within findTimeout. Peer.Address holds the
// discovered host's libp2p peer ID (not a host:port), ranks are assigned by
// sorting those IDs so every participant computes the same assignment
// independently.
func KademliaMembership(ctx context.Context, h host.Host, rendezvous string, findTimeout time.Duration) ([]Peer, error) {
	kadDHT, err := dht.New(ctx, h)
	if err != nil {
		return nil, mferrors.NewRemoteCallError("cluster: creating DHT", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		return nil, mferrors.NewRemoteCallError("cluster: bootstrapping DHT", err)
	}

	disc := routing.NewRoutingDiscovery(kadDHT)
	if _, err := disc.Advertise(ctx, rendezvous); err != nil {
		return nil, mferrors.NewRemoteCallError("cluster: advertising rendezvous", err)
	}

	findCtx, cancel := context.WithTimeout(ctx, findTimeout)
	defer cancel()
	peerChan, err := disc.FindPeers(findCtx, rendezvous)
	if err != nil {
		return nil, mferrors.NewRemoteCallError("cluster: finding peers", err)
	}

	seen := map[string]peer.AddrInfo{h.ID().String(): {ID: h.ID(), Addrs: h.Addrs()}}
	for info := range peerChan {
		if info.ID == h.ID() {
			continue
		}
		seen[info.ID.String()] = info
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	peers := make([]Peer, len(ids))
	for i, id := range ids {
		peers[i] = Peer{Rank: i, Address: id}
	}
	return peers, nil
}

// WaitForQuorum checks that peers already holds at least want entries,
// returning a ResourceExhaustion error when it does not. It does not
// block or watch for peers that join later.
func WaitForQuorum(peers []Peer, want int) error {
	if len(peers) < want {
		return mferrors.NewResourceExhaustion(fmt.Sprintf("cluster: found %d peers, want %d", len(peers), want), nil)
	}
	return nil
}
