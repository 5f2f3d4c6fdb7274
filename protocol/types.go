// Package protocol carries the external request/response schemas that the
// cluster metadata cache consumes and produces (spec §6). The wire codec
// that actually serializes these to bytes is out of scope; only the plain
// data shapes live here, the way jocko's protocol package holds decoded
// request/response structs independent of the byte-level framing.
package protocol

import "github.com/google/uuid"

// EndpointState describes one listener a live broker advertises, as carried
// in an UpdateMetadataRequest.
type EndpointState struct {
	Host             string
	Port             int32
	Listener         string
	SecurityProtocol string
}

// LiveBroker is one broker entry of an UpdateMetadataRequest.
type LiveBroker struct {
	ID        int32
	Rack      *string
	Endpoints []EndpointState
}

// TopicState carries a topic's id as of this update; a zero UUID clears the
// topic's id mapping (spec §4.1 step 4).
type TopicState struct {
	Topic   string
	TopicID uuid.UUID
}

// PartitionState is one partition entry of an UpdateMetadataRequest. Leader
// == LeaderDuringDelete (see cluster package) marks the partition deleted.
type PartitionState struct {
	Topic           string
	Partition       int32
	Leader          int32
	LeaderEpoch     int32
	Replicas        []int32
	ISR             []int32
	OfflineReplicas []int32
}

// UpdateMetadataRequest is the input to MetadataCache.UpdateMetadata.
type UpdateMetadataRequest struct {
	CorrelationID   int32
	ControllerID    int32
	ControllerEpoch int32
	LiveBrokers     []LiveBroker
	TopicStates     []TopicState
	PartitionStates []PartitionState
}

// PartitionMetadata is one partition entry of a TopicMetadata response.
type PartitionMetadata struct {
	ErrorCode       int16
	PartitionIndex  int32
	LeaderID        int32
	LeaderEpoch     int32
	ReplicaNodes    []int32
	IsrNodes        []int32
	OfflineReplicas []int32
}

// TopicMetadata is one topic entry of a MetadataResponse.
type TopicMetadata struct {
	ErrorCode  int16
	Name       string
	TopicID    uuid.UUID
	IsInternal bool
	Partitions []PartitionMetadata
}

// MetadataResponse is the output of MetadataCache.GetTopicMetadata.
type MetadataResponse struct {
	Topics []TopicMetadata
}

// TopicPartition identifies a single partition of a topic, used both as a
// request key and as the "deleted by this update" return value of
// UpdateMetadata.
type TopicPartition struct {
	Topic     string
	Partition int32
}
