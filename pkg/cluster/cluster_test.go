package cluster

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMembershipAssignsRanksByOrder(t *testing.T) {
	peers := StaticMembership([]string{"a:1", "b:2", "c:3"})
	require.Len(t, peers, 3)
	assert.Equal(t, Peer{Rank: 0, Address: "a:1"}, peers[0])
	assert.Equal(t, Peer{Rank: 2, Address: "c:3"}, peers[2])
}

func TestSelfRankFindsMatchingPodIP(t *testing.T) {
	peers := StaticMembership([]string{"10.0.0.1:9000", "10.0.0.2:9000"})
	rank, err := SelfRank(peers, "10.0.0.2", 9000)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
}

func TestSelfRankFailsWhenPodIPAbsent(t *testing.T) {
	peers := StaticMembership([]string{"10.0.0.1:9000"})
	_, err := SelfRank(peers, "10.0.0.9", 9000)
	assert.Error(t, err)
}

func TestWaitForQuorumSucceedsWhenEnoughPeers(t *testing.T) {
	peers := StaticMembership([]string{"a", "b", "c"})
	assert.NoError(t, WaitForQuorum(peers, 2))
}

func TestWaitForQuorumFailsWhenShort(t *testing.T) {
	peers := StaticMembership([]string{"a"})
	assert.Error(t, WaitForQuorum(peers, 2))
}

func TestKubernetesMembershipSortsByIPAndAssignsRanks(t *testing.T) {
	client := fake.NewSimpleClientset(&corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "training", Namespace: "ns"},
		Subsets: []corev1.EndpointSubset{
			{Addresses: []corev1.EndpointAddress{{IP: "10.0.0.5"}, {IP: "10.0.0.2"}}},
		},
	})

	peers, err := KubernetesMembership(context.Background(), client, "ns", "training", 4001)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "10.0.0.2:4001", peers[0].Address)
	assert.Equal(t, "10.0.0.5:4001", peers[1].Address)
	assert.Equal(t, 0, peers[0].Rank)
	assert.Equal(t, 1, peers[1].Rank)
}

func TestKubernetesMembershipFailsWhenServiceMissing(t *testing.T) {
	client := fake.NewSimpleClientset()
	_, err := KubernetesMembership(context.Background(), client, "ns", "missing", 4001)
	assert.Error(t, err)
}
