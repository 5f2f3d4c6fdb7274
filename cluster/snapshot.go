package cluster

import (
	"github.com/google/uuid"

	"github.com/shoalbroker/shoal/protocol"
)

// MetadataSnapshot is a fully-formed, immutable view of the cluster (spec
// §3). Once published it is never mutated; MetadataCache.UpdateMetadata
// builds a new one and swaps the pointer atomically (spec §4.1, §5).
type MetadataSnapshot struct {
	partitionStates map[string]map[int32]PartitionState
	topicIDs        map[string]uuid.UUID
	topicNames      map[uuid.UUID]string
	controllerID    *int32
	aliveBrokers    map[int32]BrokerInfo
}

// emptySnapshot is the cache's initial state, before any update has been
// applied.
func emptySnapshot() *MetadataSnapshot {
	return &MetadataSnapshot{
		partitionStates: map[string]map[int32]PartitionState{},
		topicIDs:        map[string]uuid.UUID{},
		topicNames:      map[uuid.UUID]string{},
		aliveBrokers:    map[int32]BrokerInfo{},
	}
}

// buildTopicNames computes the inverse of topicIDs, the invariant required
// by spec §3(a): every key in topicNames corresponds to exactly one key in
// topicIDs.
func buildTopicNames(topicIDs map[string]uuid.UUID) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(topicIDs))
	for name, id := range topicIDs {
		if id == uuid.Nil {
			continue
		}
		names[id] = name
	}
	return names
}

func deepCopyPartitionStates(src map[string]map[int32]PartitionState) map[string]map[int32]PartitionState {
	out := make(map[string]map[int32]PartitionState, len(src))
	for topic, inner := range src {
		innerCopy := make(map[int32]PartitionState, len(inner))
		for idx, ps := range inner {
			innerCopy[idx] = ps.clone()
		}
		out[topic] = innerCopy
	}
	return out
}

func copyTopicIDs(src map[string]uuid.UUID) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// AllTopics returns every topic name with at least one resident partition.
func (m *MetadataSnapshot) AllTopics() []string {
	topics := make([]string, 0, len(m.partitionStates))
	for t := range m.partitionStates {
		topics = append(topics, t)
	}
	return topics
}

// Contains reports whether topic has any resident partition state.
func (m *MetadataSnapshot) Contains(topic string) bool {
	_, ok := m.partitionStates[topic]
	return ok
}

// ContainsPartition reports whether tp is resident in this snapshot.
func (m *MetadataSnapshot) ContainsPartition(tp protocol.TopicPartition) bool {
	inner, ok := m.partitionStates[tp.Topic]
	if !ok {
		return false
	}
	_, ok = inner[tp.Partition]
	return ok
}
