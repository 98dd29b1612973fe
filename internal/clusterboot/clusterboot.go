// Package clusterboot resolves cluster membership and wires the optional
// cross-process transport and consensus layers from a loaded
// internal/config.Config, the one place pkg/cluster, pkg/runtime/transport
// and the Raft-backed trace log are actually exercised from a cmd/mf-*
// entrypoint instead of only from their own package tests.
package clusterboot

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/dsgdpp/mf/internal/config"
	"github.com/dsgdpp/mf/pkg/cluster"
	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/logging"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
	mfruntime "github.com/dsgdpp/mf/pkg/runtime"
	"github.com/dsgdpp/mf/pkg/runtime/transport"
)

// Result bundles everything Bootstrap resolved. Peers and Self are always
// populated once cfg.Cluster names any membership source; TM/Node/Raft/FSM
// are nil unless the matching cfg.Cluster/cfg.Trace fields opted in.
type Result struct {
	Peers []cluster.Peer
	Self  int

	TM   *mfruntime.TaskManager
	Node *transport.Node

	Raft *raft.Raft
	FSM  *mftrace.FSM
}

// Close tears down whatever Bootstrap started (the libp2p node and the
// Raft voter, if either was built); it is a no-op on a zero Result.
func (r *Result) Close() {
	if r == nil {
		return
	}
	if r.Raft != nil {
		_ = r.Raft.Shutdown().Error()
	}
	if r.Node != nil {
		_ = r.Node.Close()
	}
}

// Bootstrap resolves cfg.Cluster's membership (static list or Kubernetes
// Endpoints discovery), then layers in whichever of the libp2p transport
// and the Raft-replicated trace log cfg opted into. podIP is only
// consulted for Kubernetes discovery, where rank is assigned by sorted pod
// IP rather than a config-pinned rank. A zero-value ClusterConfig (no
// peers, no Kubernetes service) returns a Result naming only cfg.Cluster.Rank,
// the single-process simulation path every existing cmd/mf-* run used
// before this wiring existed.
func Bootstrap(ctx context.Context, log *logging.Logger, cfg *config.Config, podIP string) (*Result, error) {
	cc := cfg.Cluster
	res := &Result{Self: cc.Rank}

	// Kademlia discovery needs its own libp2p host up front, since the
	// membership list itself comes from that host's DHT rather than a
	// name already resolvable without one.
	var kadNode *transport.Node
	if cc.KademliaRendezvous != "" {
		node, err := transport.NewNode(cc.TransportListenAddr)
		if err != nil {
			return nil, err
		}
		kadNode = node
		timeout := cc.KademliaFindTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		peers, err := cluster.KademliaMembership(ctx, node.Host, cc.KademliaRendezvous, timeout)
		if err != nil {
			node.Close()
			return nil, err
		}
		res.Peers = peers
		for i, p := range peers {
			if p.Address == node.Host.ID().String() {
				res.Self = i
			}
		}
		log.Info("resolved kademlia cluster membership", "peers", len(peers), "self_rank", res.Self, "rendezvous", cc.KademliaRendezvous)
	}

	switch {
	case kadNode != nil:
		// membership already resolved above; fall through to quorum wait
	case cc.KubernetesService != "":
		kclient, err := kubernetesClient()
		if err != nil {
			return nil, err
		}
		port := cc.KubernetesPort
		if port == 0 {
			port = 4001
		}
		peers, err := cluster.KubernetesMembership(ctx, kclient, cc.KubernetesNamespace, cc.KubernetesService, port)
		if err != nil {
			return nil, err
		}
		self, err := cluster.SelfRank(peers, podIP, port)
		if err != nil {
			return nil, err
		}
		res.Peers, res.Self = peers, self
		log.Info("resolved kubernetes cluster membership", "peers", len(peers), "self_rank", self)
	case len(cc.Peers) > 0:
		res.Peers = cluster.StaticMembership(cc.Peers)
		log.Info("resolved static cluster membership", "peers", len(res.Peers), "self_rank", res.Self)
	default:
		return res, nil
	}

	if err := cluster.WaitForQuorum(res.Peers, len(res.Peers)); err != nil {
		return nil, err
	}

	if cc.TransportListenAddr != "" {
		node := kadNode
		if node == nil {
			n, err := transport.NewNode(cc.TransportListenAddr)
			if err != nil {
				return nil, err
			}
			node = n
		}
		res.Node = node

		addrs := make(map[int]peer.AddrInfo, len(res.Peers))
		if kadNode != nil {
			// Kademlia discovery already populated node's peerstore with
			// every discovered peer's known multiaddrs; look dialing
			// targets up there instead of a static TransportPeers list.
			for i, p := range res.Peers {
				if i == res.Self {
					continue
				}
				id, err := peer.Decode(p.Address)
				if err != nil {
					res.Close()
					return nil, mferrors.NewConfigError(fmt.Sprintf("clusterboot: peer %d has no valid libp2p ID %q", p.Rank, p.Address), err)
				}
				addrs[p.Rank] = node.Host.Peerstore().PeerInfo(id)
			}
		} else {
			for i, p := range res.Peers {
				if i >= len(cc.TransportPeers) {
					break
				}
				maddr, err := multiaddr.NewMultiaddr(cc.TransportPeers[i])
				if err != nil {
					res.Close()
					return nil, mferrors.NewConfigError(fmt.Sprintf("clusterboot: bad transport multiaddr for rank %d", p.Rank), err)
				}
				info, err := peer.AddrInfoFromP2pAddr(maddr)
				if err != nil {
					res.Close()
					return nil, mferrors.NewConfigError(fmt.Sprintf("clusterboot: transport multiaddr for rank %d has no /p2p/<id> suffix", p.Rank), err)
				}
				addrs[p.Rank] = *info
			}
		}

		tm := mfruntime.NewTaskManager(res.Self, log)
		tm.SetRemoteDialer(&transport.RankDialer{
			Node:      node,
			Addresses: addrs,
			Local:     mfruntime.Endpoint{Rank: res.Self},
		})
		transport.Serve(node, tm)
		res.TM = tm
		log.Info("started libp2p transport", "listen_addr", cc.TransportListenAddr, "host_id", node.Host.ID().String())
	}

	if cfg.Trace.RaftDir != "" {
		fsm := mftrace.NewFSM()
		r, err := mftrace.BootstrapRaft(cfg.Trace.RaftDir, res.Peers[res.Self], res.Peers, fsm)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.Raft = r
		res.FSM = fsm
		log.Info("bootstrapped raft trace replication", "data_dir", cfg.Trace.RaftDir, "voters", len(res.Peers))
	}

	return res, nil
}

const pingTaskID = "clusterboot.ping"

// PingPeers registers the ping task res.TM answers for its own rank, then
// spawns a ping against every higher-ranked peer in turn and waits for the
// echo — a startup connectivity check that is also the first genuine,
// non-test caller of TaskManager.SpawnGroup's remote-dialer fallback: it
// drives a real transport.Node.Dial, across the libp2p stream Serve
// registered, into the peer's own HandleRemote dispatch. No-op when res.TM
// is nil (single-process runs never enable the transport).
func PingPeers(ctx context.Context, log *logging.Logger, res *Result) error {
	if res.TM == nil {
		return nil
	}
	res.TM.Register(pingTaskID, func(ctx context.Context, ch mfruntime.Channel, info mfruntime.TaskInfo) error {
		msg, err := ch.Recv(ctx)
		if err != nil {
			return err
		}
		return ch.Send(ctx, msg.Values...)
	})

	for _, p := range res.Peers {
		if p.Rank <= res.Self {
			continue
		}
		ch, err := res.TM.Spawn(ctx, p.Rank, pingTaskID)
		if err != nil {
			return mferrors.NewRemoteCallError(fmt.Sprintf("clusterboot: dialing rank %d", p.Rank), err)
		}
		if err := ch.Send(ctx, "ping"); err != nil {
			ch.Close()
			return mferrors.NewRemoteCallError(fmt.Sprintf("clusterboot: pinging rank %d", p.Rank), err)
		}
		if _, err := ch.Recv(ctx); err != nil {
			ch.Close()
			return mferrors.NewRemoteCallError(fmt.Sprintf("clusterboot: awaiting pong from rank %d", p.Rank), err)
		}
		ch.Close()
		log.Info("transport reachable", "peer_rank", p.Rank)
	}
	return nil
}

func kubernetesClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, mferrors.NewConfigError("clusterboot: building in-cluster kubernetes config", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, mferrors.NewConfigError("clusterboot: building kubernetes client", err)
	}
	return client, nil
}
