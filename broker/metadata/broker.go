// Package metadata carries the serf tag shape a node gossips about itself,
// grounded on jocko's jocko/metadata package (referenced from
// broker/server_lookup_test.go and the leader-election flow).
package metadata

import (
	"strconv"

	"github.com/hashicorp/serf/serf"
)

// Broker is one broker's serf-gossiped identity: the raft address the
// controller election and cluster membership use to dial it.
type Broker struct {
	ID       int32
	RaftAddr string
	Rack     string
}

// IsBroker extracts a Broker from a serf member's tags, as set by
// Broker.Tags on the advertising side. ok is false if the member is not
// tagged as a shoal broker (e.g. a stray serf peer).
func IsBroker(m serf.Member) (*Broker, bool) {
	raftAddr, ok := m.Tags["raft_addr"]
	if !ok {
		return nil, false
	}
	idStr, ok := m.Tags["id"]
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		return nil, false
	}
	return &Broker{ID: int32(id), RaftAddr: raftAddr, Rack: m.Tags["rack"]}, true
}

// Tags builds the serf tag map this broker should advertise.
func (b Broker) Tags() map[string]string {
	tags := map[string]string{
		"id":        strconv.FormatInt(int64(b.ID), 10),
		"raft_addr": b.RaftAddr,
	}
	if b.Rack != "" {
		tags["rack"] = b.Rack
	}
	return tags
}
