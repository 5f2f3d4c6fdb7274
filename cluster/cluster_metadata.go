package cluster

import "sort"

// ClusterPartitionInfo is one partition entry of a ClusterMetadata (spec §6
// Cluster schema).
type ClusterPartitionInfo struct {
	Topic     string
	Partition int32
	Leader    int32
	Replicas  []int32
	ISR       []int32
}

// ClusterMetadata is the output of GetClusterMetadata (spec §6 Cluster
// schema): a read-only, request-shaped projection of the snapshot.
// UnauthorizedTopics is always empty -- authorization is out of scope
// (spec §1) -- but the field is kept so callers built against the full
// schema need no special case (spec §12).
type ClusterMetadata struct {
	ClusterID          string
	Nodes              []NodeInfo
	Partitions         []ClusterPartitionInfo
	UnauthorizedTopics []string
	InternalTopics     map[string]bool
	ControllerNode     *NodeInfo
}

// GetClusterMetadata builds the Cluster view for clusterId on listener.
// Partitions with leader == LeaderDuringDelete are excluded (spec §6).
func (c *MetadataCache) GetClusterMetadata(clusterID, listener string) ClusterMetadata {
	s := c.current()

	out := ClusterMetadata{
		ClusterID:          clusterID,
		UnauthorizedTopics: nil,
		InternalTopics:     map[string]bool{},
	}

	// Built directly from s rather than via GetAliveBrokerNodes, which
	// samples c.current() itself -- calling it here would let UpdateMetadata
	// swap the snapshot between this and the reads below, tearing out.Nodes
	// against out.Partitions/out.ControllerNode (spec §5, §8.1).
	brokerIDs := make([]int32, 0, len(s.aliveBrokers))
	for id := range s.aliveBrokers {
		brokerIDs = append(brokerIDs, id)
	}
	sort.Slice(brokerIDs, func(i, j int) bool { return brokerIDs[i] < brokerIDs[j] })
	for _, id := range brokerIDs {
		if node, ok := s.aliveBrokers[id].NodeForListener(listener); ok {
			out.Nodes = append(out.Nodes, node)
		}
	}

	if s.controllerID != nil {
		if n, ok := s.aliveBrokers[*s.controllerID]; ok {
			if node, ok := n.NodeForListener(listener); ok {
				out.ControllerNode = &node
			}
		}
	}

	topics := s.AllTopics()
	sort.Strings(topics)
	for _, topic := range topics {
		if isInternalTopic(topic) {
			out.InternalTopics[topic] = true
		}
		inner := s.partitionStates[topic]
		indices := make([]int32, 0, len(inner))
		for idx := range inner {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		for _, idx := range indices {
			ps := inner[idx]
			if ps.LeaderID == LeaderDuringDelete {
				continue
			}
			out.Partitions = append(out.Partitions, ClusterPartitionInfo{
				Topic:     topic,
				Partition: ps.PartitionIndex,
				Leader:    ps.LeaderID,
				Replicas:  ps.Replicas,
				ISR:       ps.ISR,
			})
		}
	}

	return out
}
