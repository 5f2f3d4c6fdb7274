// Package controllerfsm is the controller's raft-replicated state machine:
// topic/partition/replica-assignment bookkeeping applied only on the raft
// leader (the controller), grounded on jocko's jocko/fsm package (referenced
// by jocko/broker.go's setupRaft and the leader-election flow in
// other_examples' jocko-leader.go, neither of which ship their fsm source in
// this pack, so the command log and snapshot format below are authored from
// the call-site evidence: State()/raftApply(type, msg) and a handful of
// command types).
package controllerfsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/shoalbroker/shoal/cluster"
	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/protocol"
)

// CommandType identifies one entry in the raft log.
type CommandType uint8

const (
	// RegisterTopicCommand creates or updates a topic's partition
	// assignments.
	RegisterTopicCommand CommandType = iota
	// DeleteTopicCommand removes a topic entirely.
	DeleteTopicCommand
)

// RegisterTopicCommandPayload is the command applied to assign partitions
// to a topic.
type RegisterTopicCommandPayload struct {
	Topic      string
	Partitions []PartitionAssignment
}

// PartitionAssignment is one partition's replica set as decided by the
// controller.
type PartitionAssignment struct {
	Partition int32
	Leader    int32
	Replicas  []int32
	ISR       []int32
}

// DeleteTopicCommandPayload is the command applied to delete a topic.
type DeleteTopicCommandPayload struct {
	Topic string
}

// command is the envelope written to the raft log.
type command struct {
	Type    CommandType
	Payload json.RawMessage
}

// topicAssignment is the FSM's retained state for one topic.
type topicAssignment struct {
	Partitions map[int32]PartitionAssignment
}

// FSM holds the controller's replicated assignment state and notifies a
// Sink each time the state changes so the owning node can loop the update
// back into its own MetadataCache (spec §12).
type FSM struct {
	mu     sync.RWMutex
	logger log.Logger
	topics map[string]*topicAssignment

	sink Sink
}

// Sink receives the UpdateMetadataRequest derived from each committed FSM
// change. The controller wires this to its own MetadataCache.UpdateMetadata
// (spec §12's loopback).
type Sink interface {
	Apply(req protocol.UpdateMetadataRequest)
}

// New constructs an empty FSM.
func New(logger log.Logger, sink Sink) *FSM {
	return &FSM{logger: logger, topics: make(map[string]*topicAssignment), sink: sink}
}

// Apply implements raft.FSM. It decodes the committed command, mutates the
// in-memory assignment state, and (if a Sink is wired) derives and applies
// an UpdateMetadataRequest reflecting the change.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var c command
	if err := json.Unmarshal(l.Data, &c); err != nil {
		return fmt.Errorf("controllerfsm: decode command: %w", err)
	}

	f.mu.Lock()
	var req protocol.UpdateMetadataRequest
	switch c.Type {
	case RegisterTopicCommand:
		var p RegisterTopicCommandPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("controllerfsm: decode register-topic payload: %w", err)
		}
		req = f.applyRegisterTopic(p)
	case DeleteTopicCommand:
		var p DeleteTopicCommandPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("controllerfsm: decode delete-topic payload: %w", err)
		}
		req = f.applyDeleteTopic(p)
	default:
		f.mu.Unlock()
		return fmt.Errorf("controllerfsm: unknown command type %d", c.Type)
	}
	f.mu.Unlock()

	if f.sink != nil {
		f.sink.Apply(req)
	}
	return nil
}

func (f *FSM) applyRegisterTopic(p RegisterTopicCommandPayload) protocol.UpdateMetadataRequest {
	ta, ok := f.topics[p.Topic]
	if !ok {
		ta = &topicAssignment{Partitions: make(map[int32]PartitionAssignment)}
		f.topics[p.Topic] = ta
	}

	req := protocol.UpdateMetadataRequest{ControllerID: -1}
	for _, pa := range p.Partitions {
		ta.Partitions[pa.Partition] = pa
		req.PartitionStates = append(req.PartitionStates, protocol.PartitionState{
			Topic:     p.Topic,
			Partition: pa.Partition,
			Leader:    pa.Leader,
			Replicas:  pa.Replicas,
			ISR:       pa.ISR,
		})
	}
	return req
}

func (f *FSM) applyDeleteTopic(p DeleteTopicCommandPayload) protocol.UpdateMetadataRequest {
	ta, ok := f.topics[p.Topic]
	if !ok {
		return protocol.UpdateMetadataRequest{ControllerID: -1}
	}
	req := protocol.UpdateMetadataRequest{ControllerID: -1}
	for partition := range ta.Partitions {
		req.PartitionStates = append(req.PartitionStates, protocol.PartitionState{
			Topic:       p.Topic,
			Partition:   partition,
			Leader:      cluster.LeaderDuringDelete,
			LeaderEpoch: cluster.EpochDuringDelete,
		})
	}
	delete(f.topics, p.Topic)
	return req
}

// Topics returns the currently assigned topic names.
func (f *FSM) Topics() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.topics))
	for t := range f.topics {
		out = append(out, t)
	}
	return out
}

// fsmSnapshot is the raft.FSMSnapshot of the FSM's current state.
type fsmSnapshot struct {
	Topics map[string]*topicAssignment
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	topics := make(map[string]*topicAssignment, len(f.topics))
	for name, ta := range f.topics {
		partitions := make(map[int32]PartitionAssignment, len(ta.Partitions))
		for idx, pa := range ta.Partitions {
			partitions[idx] = pa
		}
		topics[name] = &topicAssignment{Partitions: partitions}
	}
	return &fsmSnapshot{Topics: topics}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		data, err := json.Marshal(s.Topics)
		if err != nil {
			return err
		}
		_, err = sink.Write(data)
		return err
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// Restore implements raft.FSM.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()
	var topics map[string]*topicAssignment
	if err := json.NewDecoder(r).Decode(&topics); err != nil {
		return err
	}
	f.mu.Lock()
	f.topics = topics
	f.mu.Unlock()
	return nil
}
