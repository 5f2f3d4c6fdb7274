// Package cluster implements the per-node cluster metadata cache: an
// asynchronously-replicated, lock-free-to-read view of partition
// leadership, replica sets, live brokers, and the controller identity
// (spec §4.1). Exactly one exclusive write lock serializes UpdateMetadata
// calls; read operations sample the current MetadataSnapshot once and
// never re-read it mid-operation (spec §5).
package cluster

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/protocol"
)

// Metrics is the opaque sink the cache reports into; the core never
// depends on a concrete registry (spec §1 Non-goals).
type Metrics interface {
	IncrCounter(name string, delta int64)
}

// MetadataCache publishes MetadataSnapshots and serves read queries
// without locking (spec §4.1, §5).
type MetadataCache struct {
	logger   log.Logger
	brokerID int32
	metrics  Metrics
	tracer   opentracing.Tracer

	writeMu  sync.Mutex
	snapshot atomic.Pointer[MetadataSnapshot]
}

// NewMetadataCache returns a cache with an empty snapshot published, as if
// no UpdateMetadata call had ever arrived yet.
func NewMetadataCache(brokerID int32, logger log.Logger, metrics Metrics) *MetadataCache {
	c := &MetadataCache{logger: logger, brokerID: brokerID, metrics: metrics}
	c.snapshot.Store(emptySnapshot())
	return c
}

// WithTracer attaches an opentracing.Tracer used to span UpdateMetadata and
// GetTopicMetadata calls (spec §11 domain stack). An unset tracer leaves
// spans untraced via opentracing's NoopTracer semantics.
func (c *MetadataCache) WithTracer(tracer opentracing.Tracer) *MetadataCache {
	c.tracer = tracer
	return c
}

func (c *MetadataCache) startSpan(operation string) opentracing.Span {
	tracer := c.tracer
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	return tracer.StartSpan(operation)
}

// current samples the published snapshot reference once. Every read
// operation below must call this exactly once and operate on the result,
// per spec §5 ("Readers MUST NOT re-read the reference mid-operation").
func (c *MetadataCache) current() *MetadataSnapshot {
	return c.snapshot.Load()
}

// GetAllTopics returns every topic with at least one resident partition.
func (c *MetadataCache) GetAllTopics() []string {
	s := c.current()
	topics := s.AllTopics()
	sort.Strings(topics)
	return topics
}

// Contains reports whether topic has resident partition state.
func (c *MetadataCache) Contains(topic string) bool {
	return c.current().Contains(topic)
}

// ContainsPartition reports whether tp is resident in the current snapshot.
func (c *MetadataCache) ContainsPartition(tp protocol.TopicPartition) bool {
	return c.current().ContainsPartition(tp)
}

// GetTopicPartitions returns the sorted partition indices of topic, or nil
// if the topic is unknown.
func (c *MetadataCache) GetTopicPartitions(topic string) []int32 {
	s := c.current()
	inner, ok := s.partitionStates[topic]
	if !ok {
		return nil
	}
	out := make([]int32, 0, len(inner))
	for idx := range inner {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumPartitions returns the partition count of topic and whether the topic
// is known at all.
func (c *MetadataCache) NumPartitions(topic string) (int, bool) {
	s := c.current()
	inner, ok := s.partitionStates[topic]
	if !ok {
		return 0, false
	}
	return len(inner), true
}

// GetNonExistingTopics filters topics down to the ones absent from the
// current snapshot.
func (c *MetadataCache) GetNonExistingTopics(topics []string) []string {
	s := c.current()
	var out []string
	for _, t := range topics {
		if !s.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// GetControllerID returns the current controller's broker id, or ok=false
// if no controller is known.
func (c *MetadataCache) GetControllerID() (int32, bool) {
	s := c.current()
	if s.controllerID == nil {
		return 0, false
	}
	return *s.controllerID, true
}

// GetTopicID resolves topic to its id, or ok=false if unknown.
func (c *MetadataCache) GetTopicID(topic string) (uuid.UUID, bool) {
	s := c.current()
	id, ok := s.topicIDs[topic]
	return id, ok
}

// GetTopicName resolves a topic id back to its name, or ok=false if
// unknown.
func (c *MetadataCache) GetTopicName(id uuid.UUID) (string, bool) {
	s := c.current()
	name, ok := s.topicNames[id]
	return name, ok
}

// TopicIDInfo returns a copy of the full topic-name -> topic-id mapping.
func (c *MetadataCache) TopicIDInfo() map[string]uuid.UUID {
	s := c.current()
	return copyTopicIDs(s.topicIDs)
}

// GetAliveBrokers returns every live broker, ordered by broker id.
func (c *MetadataCache) GetAliveBrokers() []BrokerInfo {
	s := c.current()
	out := make([]BrokerInfo, 0, len(s.aliveBrokers))
	for _, b := range s.aliveBrokers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAliveBrokerNode resolves the network address broker id exposes for
// listener. ok is false if the broker is not alive or does not expose it.
func (c *MetadataCache) GetAliveBrokerNode(id int32, listener string) (NodeInfo, bool) {
	s := c.current()
	broker, ok := s.aliveBrokers[id]
	if !ok {
		return NodeInfo{}, false
	}
	return broker.NodeForListener(listener)
}

// GetAliveBrokerNodes returns the resolved node for every live broker that
// exposes listener, ordered by broker id.
func (c *MetadataCache) GetAliveBrokerNodes(listener string) []NodeInfo {
	brokers := c.GetAliveBrokers()
	out := make([]NodeInfo, 0, len(brokers))
	for _, b := range brokers {
		if n, ok := b.NodeForListener(listener); ok {
			out = append(out, n)
		}
	}
	return out
}

// GetPartitionLeaderEndpoint resolves the leader of (topic, partition) on
// listener (spec §4.1):
//   - ok=false if the topic/partition is unknown.
//   - ok=true, NoNode if the leader is known but unreachable on listener
//     (either not alive, or alive without this listener).
//   - ok=true, node otherwise.
func (c *MetadataCache) GetPartitionLeaderEndpoint(topic string, partition int32, listener string) (NodeInfo, bool) {
	s := c.current()
	inner, ok := s.partitionStates[topic]
	if !ok {
		return NodeInfo{}, false
	}
	ps, ok := inner[partition]
	if !ok {
		return NodeInfo{}, false
	}
	broker, ok := s.aliveBrokers[ps.LeaderID]
	if !ok {
		return NoNode, true
	}
	node, ok := broker.NodeForListener(listener)
	if !ok {
		return NoNode, true
	}
	return node, true
}

// GetPartitionReplicaEndpoints resolves every replica of tp to its network
// address on listener, omitting replicas that are not alive or that do not
// expose the listener (spec §4.1).
func (c *MetadataCache) GetPartitionReplicaEndpoints(tp protocol.TopicPartition, listener string) map[int32]NodeInfo {
	s := c.current()
	out := map[int32]NodeInfo{}
	inner, ok := s.partitionStates[tp.Topic]
	if !ok {
		return out
	}
	ps, ok := inner[tp.Partition]
	if !ok {
		return out
	}
	for _, replicaID := range ps.Replicas {
		broker, ok := s.aliveBrokers[replicaID]
		if !ok {
			continue
		}
		node, ok := broker.NodeForListener(listener)
		if !ok {
			continue
		}
		out[replicaID] = node
	}
	return out
}

func (s *MetadataSnapshot) brokerHasListener(id int32, listener string) bool {
	broker, ok := s.aliveBrokers[id]
	if !ok {
		return false
	}
	_, ok = broker.NodeForListener(listener)
	return ok
}

// filterAlive returns the subset of ids whose broker is alive and exposes
// listener, preserving order.
func (s *MetadataSnapshot) filterAlive(ids []int32, listener string) []int32 {
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if s.brokerHasListener(id, listener) {
			out = append(out, id)
		}
	}
	return out
}

// GetTopicMetadata assembles per-partition metadata for every topic present
// in the snapshot (unknown topics are silently omitted, per spec §4.1 --
// callers use GetNonExistingTopics to report absence). The per-partition
// error code follows the precedence table in spec §4.1.
func (c *MetadataCache) GetTopicMetadata(topics []string, listener string, errorUnavailableEndpoints, errorUnavailableListeners bool) []protocol.TopicMetadata {
	span := c.startSpan("MetadataCache.GetTopicMetadata")
	defer span.Finish()

	s := c.current()
	out := make([]protocol.TopicMetadata, 0, len(topics))
	for _, topic := range topics {
		inner, ok := s.partitionStates[topic]
		if !ok {
			continue
		}
		partitions := make([]int32, 0, len(inner))
		for idx := range inner {
			partitions = append(partitions, idx)
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

		pms := make([]protocol.PartitionMetadata, 0, len(partitions))
		for _, idx := range partitions {
			ps := inner[idx]
			pms = append(pms, s.assemblePartitionMetadata(ps, listener, errorUnavailableEndpoints, errorUnavailableListeners))
		}

		id := s.topicIDs[topic]
		out = append(out, protocol.TopicMetadata{
			ErrorCode:  protocol.ErrNone.Code(),
			Name:       topic,
			TopicID:    id,
			IsInternal: isInternalTopic(topic),
			Partitions: pms,
		})
	}
	return out
}

func (s *MetadataSnapshot) assemblePartitionMetadata(ps PartitionState, listener string, errorUnavailableEndpoints, errorUnavailableListeners bool) protocol.PartitionMetadata {
	errCode := protocol.ErrNone.Code()
	leaderID := ps.LeaderID

	broker, leaderAlive := s.aliveBrokers[ps.LeaderID]
	var leaderHasListener bool
	if leaderAlive {
		_, leaderHasListener = broker.NodeForListener(listener)
	}

	switch {
	case !leaderAlive:
		errCode = protocol.ErrLeaderNotAvailable.Code()
		leaderID = NoLeaderID
	case !leaderHasListener:
		if errorUnavailableListeners {
			errCode = protocol.ErrListenerNotFound.Code()
		} else {
			errCode = protocol.ErrLeaderNotAvailable.Code()
		}
		leaderID = NoLeaderID
	}

	replicas, isr := ps.Replicas, ps.ISR
	if errorUnavailableEndpoints {
		replicas = s.filterAlive(ps.Replicas, listener)
		isr = s.filterAlive(ps.ISR, listener)
	}
	if errCode == protocol.ErrNone.Code() && (len(replicas) != len(ps.Replicas) || len(isr) != len(ps.ISR)) {
		errCode = protocol.ErrReplicaNotAvailable.Code()
	}

	return protocol.PartitionMetadata{
		ErrorCode:       errCode,
		PartitionIndex:  ps.PartitionIndex,
		LeaderID:        leaderID,
		LeaderEpoch:     ps.LeaderEpoch,
		ReplicaNodes:    replicas,
		IsrNodes:        isr,
		OfflineReplicas: ps.OfflineReplicas,
	}
}

// isInternalTopic follows the Kafka/jocko convention that topics prefixed
// with "__" are internal (spec §12 supplement).
func isInternalTopic(topic string) bool {
	return len(topic) >= 2 && topic[0] == '_' && topic[1] == '_'
}

// warnIfListenersDiffer is a diagnostic check only (spec §4.1 step 3, §9
// Open question): it never gates behavior, and read paths must tolerate
// partial listener coverage regardless of what it finds.
func (c *MetadataCache) warnIfListenersDiffer(listenerSets []map[string]struct{}) {
	if len(listenerSets) < 2 {
		return
	}
	first := listenerSets[0]
	for _, set := range listenerSets[1:] {
		if len(set) != len(first) {
			c.logger.Warn("brokers do not expose identical listener sets")
			return
		}
		for l := range first {
			if _, ok := set[l]; !ok {
				c.logger.Warn("brokers do not expose identical listener sets")
				return
			}
		}
	}
}

// UpdateMetadata atomically installs a new snapshot built from req and
// returns the partitions deleted by this update (spec §4.1 update
// algorithm). Concurrent UpdateMetadata calls are serialized; concurrent
// reads are never blocked.
func (c *MetadataCache) UpdateMetadata(correlationID int32, req protocol.UpdateMetadataRequest) []protocol.TopicPartition {
	span := c.startSpan("MetadataCache.UpdateMetadata")
	defer span.Finish()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev := c.current()

	aliveBrokers := make(map[int32]BrokerInfo, len(req.LiveBrokers))
	listenerSets := make([]map[string]struct{}, 0, len(req.LiveBrokers))
	for _, lb := range req.LiveBrokers {
		eps := make([]EndPoint, 0, len(lb.Endpoints))
		listenerSet := make(map[string]struct{}, len(lb.Endpoints))
		for _, ep := range lb.Endpoints {
			eps = append(eps, EndPoint{
				Host:             ep.Host,
				Port:             ep.Port,
				ListenerName:     ep.Listener,
				SecurityProtocol: ep.SecurityProtocol,
			})
			listenerSet[ep.Listener] = struct{}{}
		}
		aliveBrokers[lb.ID] = BrokerInfo{ID: lb.ID, Endpoints: eps, Rack: lb.Rack}
		listenerSets = append(listenerSets, listenerSet)
	}
	c.warnIfListenersDiffer(listenerSets)

	var controllerID *int32
	if req.ControllerID >= 0 {
		id := req.ControllerID
		controllerID = &id
	}

	topicIDs := copyTopicIDs(prev.topicIDs)
	for _, ts := range req.TopicStates {
		if ts.TopicID == uuid.Nil {
			delete(topicIDs, ts.Topic)
		}
	}
	for _, ts := range req.TopicStates {
		if ts.TopicID != uuid.Nil {
			topicIDs[ts.Topic] = ts.TopicID
		}
	}

	var deleted []protocol.TopicPartition
	partitionStates := prev.partitionStates
	if len(req.PartitionStates) > 0 {
		working := deepCopyPartitionStates(prev.partitionStates)
		for _, incoming := range req.PartitionStates {
			tp := protocol.TopicPartition{Topic: incoming.Topic, Partition: incoming.Partition}
			if incoming.Leader == LeaderDuringDelete {
				if inner, ok := working[incoming.Topic]; ok {
					delete(inner, incoming.Partition)
					if len(inner) == 0 {
						delete(working, incoming.Topic)
						delete(topicIDs, incoming.Topic)
					}
				}
				deleted = append(deleted, tp)
				continue
			}
			inner, ok := working[incoming.Topic]
			if !ok {
				inner = map[int32]PartitionState{}
				working[incoming.Topic] = inner
			}
			inner[incoming.Partition] = PartitionState{
				Topic:           incoming.Topic,
				PartitionIndex:  incoming.Partition,
				LeaderID:        incoming.Leader,
				LeaderEpoch:     incoming.LeaderEpoch,
				Replicas:        copyInt32s(incoming.Replicas),
				ISR:             copyInt32s(incoming.ISR),
				OfflineReplicas: copyInt32s(incoming.OfflineReplicas),
			}
		}
		partitionStates = working
	}

	next := &MetadataSnapshot{
		partitionStates: partitionStates,
		topicIDs:        topicIDs,
		topicNames:      buildTopicNames(topicIDs),
		controllerID:    controllerID,
		aliveBrokers:    aliveBrokers,
	}
	c.snapshot.Store(next)

	if c.metrics != nil {
		c.metrics.IncrCounter("metadata.updates", 1)
	}
	c.logger.Debug("updated metadata cache",
		log.Int32("correlation-id", correlationID),
		log.Any("deleted-partitions", len(deleted)),
	)

	return deleted
}
