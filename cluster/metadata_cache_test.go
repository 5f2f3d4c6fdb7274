package cluster_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shoalbroker/shoal/cluster"
	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/protocol"
)

func newTestCache() *cluster.MetadataCache {
	return cluster.NewMetadataCache(1, log.NewRecording(), nil)
}

func liveBroker(id int32, listeners map[string]string) protocol.LiveBroker {
	lb := protocol.LiveBroker{ID: id}
	for name, host := range listeners {
		lb.Endpoints = append(lb.Endpoints, protocol.EndpointState{
			Host: host, Port: 9092, Listener: name, SecurityProtocol: "PLAINTEXT",
		})
	}
	return lb
}

// S1: leader lookup, listener missing.
func TestGetPartitionLeaderEndpoint_ListenerMissing(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers: []protocol.LiveBroker{
			liveBroker(1, map[string]string{"INTERNAL": "h1"}),
			liveBroker(2, map[string]string{"INTERNAL": "h2"}),
		},
		PartitionStates: []protocol.PartitionState{
			{Topic: "A", Partition: 0, Leader: 2, LeaderEpoch: 0, Replicas: []int32{1, 2}, ISR: []int32{1, 2}},
		},
	})

	node, ok := c.GetPartitionLeaderEndpoint("A", 0, "EXTERNAL")
	require.True(t, ok)
	require.Equal(t, cluster.NoNode, node)
}

// S2: topic metadata with filtered ISR.
func TestGetTopicMetadata_FilteredReplicaNotAvailable(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers: []protocol.LiveBroker{
			liveBroker(1, map[string]string{"PLAINTEXT": "h1"}),
			liveBroker(2, map[string]string{"PLAINTEXT": "h2"}),
		},
		PartitionStates: []protocol.PartitionState{
			{Topic: "B", Partition: 1, Leader: 1, LeaderEpoch: 0, Replicas: []int32{1, 2, 3}, ISR: []int32{1, 2, 3}},
		},
	})

	resp := c.GetTopicMetadata([]string{"B"}, "PLAINTEXT", true, false)
	require.Len(t, resp, 1)
	require.Len(t, resp[0].Partitions, 1)
	pm := resp[0].Partitions[0]
	require.Equal(t, protocol.ErrReplicaNotAvailable.Code(), pm.ErrorCode)
	require.Equal(t, []int32{1, 2}, pm.ReplicaNodes)
	require.Equal(t, []int32{1, 2}, pm.IsrNodes)
	require.Equal(t, int32(1), pm.LeaderID)
}

func TestGetTopicMetadata_UnknownTopicOmitted(t *testing.T) {
	c := newTestCache()
	resp := c.GetTopicMetadata([]string{"missing"}, "PLAINTEXT", false, false)
	require.Empty(t, resp)
	require.Equal(t, []string{"missing"}, c.GetNonExistingTopics([]string{"missing"}))
}

// S3: partition deletion.
func TestUpdateMetadata_PartitionDeletion(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: 1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
		TopicStates:  []protocol.TopicState{{Topic: "T", TopicID: uuid.New()}},
		PartitionStates: []protocol.PartitionState{
			{Topic: "T", Partition: 0, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}},
			{Topic: "T", Partition: 1, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}},
		},
	})
	require.True(t, c.Contains("T"))

	deleted := c.UpdateMetadata(2, protocol.UpdateMetadataRequest{
		ControllerID: 1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
		PartitionStates: []protocol.PartitionState{
			{Topic: "T", Partition: 0, Leader: cluster.LeaderDuringDelete, LeaderEpoch: cluster.EpochDuringDelete},
		},
	})
	require.Equal(t, []protocol.TopicPartition{{Topic: "T", Partition: 0}}, deleted)
	require.False(t, c.ContainsPartition(protocol.TopicPartition{Topic: "T", Partition: 0}))
	require.True(t, c.ContainsPartition(protocol.TopicPartition{Topic: "T", Partition: 1}))

	deleted = c.UpdateMetadata(3, protocol.UpdateMetadataRequest{
		ControllerID: 1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
		PartitionStates: []protocol.PartitionState{
			{Topic: "T", Partition: 1, Leader: cluster.LeaderDuringDelete, LeaderEpoch: cluster.EpochDuringDelete},
		},
	})
	require.Equal(t, []protocol.TopicPartition{{Topic: "T", Partition: 1}}, deleted)
	require.False(t, c.Contains("T"))
	_, ok := c.GetTopicID("T")
	require.False(t, ok)
}

func TestUpdateMetadata_ZeroUUIDClearsTopicID(t *testing.T) {
	c := newTestCache()
	id := uuid.New()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID:    -1,
		TopicStates:     []protocol.TopicState{{Topic: "T", TopicID: id}},
		PartitionStates: []protocol.PartitionState{{Topic: "T", Partition: 0, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}}},
	})
	got, ok := c.GetTopicID("T")
	require.True(t, ok)
	require.Equal(t, id, got)

	c.UpdateMetadata(2, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		TopicStates:  []protocol.TopicState{{Topic: "T", TopicID: uuid.Nil}},
	})
	_, ok = c.GetTopicID("T")
	require.False(t, ok)
}

func TestUpdateMetadata_NoPartitionStatesReusesPrevious(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID:    -1,
		LiveBrokers:     []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
		PartitionStates: []protocol.PartitionState{{Topic: "T", Partition: 0, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}}},
	})
	deleted := c.UpdateMetadata(2, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
	})
	require.Empty(t, deleted)
	require.True(t, c.Contains("T"))
}

func TestGetAliveBrokerNode(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
	})
	node, ok := c.GetAliveBrokerNode(1, "PLAINTEXT")
	require.True(t, ok)
	require.Equal(t, "h1", node.Host)

	_, ok = c.GetAliveBrokerNode(1, "EXTERNAL")
	require.False(t, ok)

	_, ok = c.GetAliveBrokerNode(9, "PLAINTEXT")
	require.False(t, ok)
}

func TestGetPartitionReplicaEndpoints_OmitsUnreachable(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers: []protocol.LiveBroker{
			liveBroker(1, map[string]string{"PLAINTEXT": "h1"}),
		},
		PartitionStates: []protocol.PartitionState{
			{Topic: "T", Partition: 0, Leader: 1, Replicas: []int32{1, 2}, ISR: []int32{1}},
		},
	})
	nodes := c.GetPartitionReplicaEndpoints(protocol.TopicPartition{Topic: "T", Partition: 0}, "PLAINTEXT")
	require.Len(t, nodes, 1)
	require.Contains(t, nodes, int32(1))
}

func TestSnapshotIsolation_ConcurrentReadsSeeOneVersion(t *testing.T) {
	c := newTestCache()
	c.UpdateMetadata(1, protocol.UpdateMetadataRequest{
		ControllerID: -1,
		LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
		PartitionStates: []protocol.PartitionState{
			{Topic: "T", Partition: 0, Leader: 1, LeaderEpoch: 5, Replicas: []int32{1}, ISR: []int32{1}},
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.UpdateMetadata(int32(i), protocol.UpdateMetadataRequest{
				ControllerID: -1,
				LiveBrokers:  []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})},
				PartitionStates: []protocol.PartitionState{
					{Topic: "T", Partition: 0, Leader: 1, LeaderEpoch: int32(5 + i), Replicas: []int32{1}, ISR: []int32{1}},
				},
			})
		}
	}()

	for i := 0; i < 100; i++ {
		resp := c.GetTopicMetadata([]string{"T"}, "PLAINTEXT", false, false)
		require.Len(t, resp, 1)
		require.Len(t, resp[0].Partitions, 1)
		require.GreaterOrEqual(t, resp[0].Partitions[0].LeaderEpoch, int32(5))
	}
	<-done
}

// GetClusterMetadata must assemble Nodes and Partitions from one sampled
// snapshot. Each update ties the live broker set to the partition's replica
// set, both derived from the very same UpdateMetadata call; if
// GetClusterMetadata re-sampled the snapshot between building Nodes and
// building Partitions, a concurrent update landing in between would surface
// a Nodes count that disagrees with the replica set it's supposed to match.
func TestGetClusterMetadata_ConcurrentUpdatesSeeOneVersion(t *testing.T) {
	c := newTestCache()

	update := func(i int32) {
		brokers := []protocol.LiveBroker{liveBroker(1, map[string]string{"PLAINTEXT": "h1"})}
		replicas := []int32{1}
		if i%2 == 0 {
			brokers = append(brokers, liveBroker(2, map[string]string{"PLAINTEXT": "h2"}))
			replicas = []int32{1, 2}
		}
		c.UpdateMetadata(i, protocol.UpdateMetadataRequest{
			ControllerID: -1,
			LiveBrokers:  brokers,
			PartitionStates: []protocol.PartitionState{
				{Topic: "T", Partition: 0, Leader: 1, LeaderEpoch: i, Replicas: replicas, ISR: replicas},
			},
		})
	}
	update(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int32(1); i <= 200; i++ {
			update(i)
		}
	}()

	for i := 0; i < 200; i++ {
		out := c.GetClusterMetadata("cluster", "PLAINTEXT")
		require.Len(t, out.Partitions, 1)
		require.Len(t, out.Nodes, len(out.Partitions[0].Replicas))
	}
	<-done
}
