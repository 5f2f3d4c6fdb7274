// Package config carries the broker-node configuration, grounded on
// jocko's jocko/config.BrokerConfig (as used by cmd/jocko/main.go and
// testutil/testing.go's brokerConfig wiring).
package config

import (
	"time"

	"github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
)

// Config is one node's configuration: identity, storage, the raft/serf
// sub-configs, and the core components' tunables.
type Config struct {
	ID      int32
	DataDir string
	Rack    string

	// RaftAddr is this node's raft bind/advertise address.
	RaftAddr string
	// SerfAddr is this node's serf bind address.
	SerfAddr string
	// Bootstrap starts a single-node raft cluster instead of joining one.
	Bootstrap bool
	// StartAsLeader short-circuits raft's initial leader election.
	StartAsLeader bool
	// DevMode uses in-memory raft storage instead of BoltDB on disk.
	DevMode bool
	// StartJoinAddrs is serf addresses to contact at startup.
	StartJoinAddrs []string

	// Listeners this node advertises in cluster metadata, name -> host:port.
	Listeners map[string]string

	// ReconcileInterval is how often the controller's leader loop
	// reconciles serf membership against raft/FSM state.
	ReconcileInterval time.Duration

	// DequeueTimeout overrides the controller event manager's default
	// poll-with-timeout duration (spec §4.3, default 5 minutes).
	DequeueTimeout time.Duration

	RaftConfig *raft.Config
	SerfConfig *serf.Config
}

// DefaultConfig returns a Config with jocko-style defaults: a bootstrapped,
// single-node raft/serf setup suitable for a dev node or test harness.
func DefaultConfig() *Config {
	raftConfig := raft.DefaultConfig()
	raftConfig.ShutdownOnRemove = false

	serfConfig := serf.DefaultConfig()
	serfConfig.NodeName = "shoal"

	return &Config{
		RaftAddr:          "127.0.0.1:9093",
		SerfAddr:          "127.0.0.1:9094",
		Bootstrap:         true,
		Listeners:         map[string]string{"PLAINTEXT": "127.0.0.1:9092"},
		ReconcileInterval: 60 * time.Second,
		DequeueTimeout:    5 * time.Minute,
		RaftConfig:        raftConfig,
		SerfConfig:        serfConfig,
	}
}
