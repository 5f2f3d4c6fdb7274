// Package broker holds ServerLookup, the node's index of known brokers by
// raft server id and raft address.
package broker

import (
	"fmt"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/shoalbroker/shoal/broker/metadata"
)

// serverID mirrors jocko's convention of addressing raft servers by their
// broker id cast directly to raft.ServerID.
func serverID(id int32) raft.ServerID { return raft.ServerID(id) }

// ServerLookup tracks the brokers known to this node by raft server id and
// by raft address, grounded on jocko's brokerLookup (jocko/broker.go).
type ServerLookup struct {
	mu           sync.RWMutex
	addrToBroker map[raft.ServerAddress]*metadata.Broker
	idToBroker   map[raft.ServerID]*metadata.Broker
}

// NewServerLookup returns an empty lookup.
func NewServerLookup() *ServerLookup {
	return &ServerLookup{
		addrToBroker: make(map[raft.ServerAddress]*metadata.Broker),
		idToBroker:   make(map[raft.ServerID]*metadata.Broker),
	}
}

// AddServer registers svr under both its raft id and raft address.
func (l *ServerLookup) AddServer(svr *metadata.Broker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addrToBroker[raft.ServerAddress(svr.RaftAddr)] = svr
	l.idToBroker[serverID(svr.ID)] = svr
}

// RemoveServer removes svr from both indexes.
func (l *ServerLookup) RemoveServer(svr *metadata.Broker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.addrToBroker, raft.ServerAddress(svr.RaftAddr))
	delete(l.idToBroker, serverID(svr.ID))
}

// Server returns the broker advertising addr, or nil if unknown.
func (l *ServerLookup) Server(addr raft.ServerAddress) *metadata.Broker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addrToBroker[addr]
}

// ServerAddr resolves id's raft address, as required by raft's
// ServerAddressProvider interface.
func (l *ServerLookup) ServerAddr(id raft.ServerID) (raft.ServerAddress, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	svr, ok := l.idToBroker[id]
	if !ok {
		return "", fmt.Errorf("broker: no server for id %s", id)
	}
	return raft.ServerAddress(svr.RaftAddr), nil
}
