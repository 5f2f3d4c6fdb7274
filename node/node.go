// Package node assembles the cluster metadata cache, controller event
// loop, and per-partition record queues behind raft-backed controller
// election and serf-backed cluster membership -- one running component
// exercising all three core subsystems end-to-end (spec §12), grounded on
// jocko's Broker (jocko/broker.go, NewBroker/Run/Shutdown) and the
// leader-election flow of other_examples' jocko-leader.go
// (setupRaft/monitorLeadership/leaderLoop/establishLeadership/
// revokeLeadership).
package node

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/hashicorp/serf/serf"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/shoalbroker/shoal/broker"
	"github.com/shoalbroker/shoal/broker/metadata"
	"github.com/shoalbroker/shoal/cluster"
	"github.com/shoalbroker/shoal/config"
	"github.com/shoalbroker/shoal/controller"
	"github.com/shoalbroker/shoal/controllerfsm"
	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/protocol"
	"github.com/shoalbroker/shoal/streams"
)

const (
	raftStateDir      = "raft/"
	raftLogCacheSize  = 512
	snapshotsRetained = 2
	serfSnapshotFile  = "serf/local.snapshot"
)

// Metrics aggregates the opaque sinks the node's components consume.
type Metrics interface {
	cluster.Metrics
	controller.Metrics
	streams.Metrics
}

// Node is one broker in a shoal cluster: a MetadataCache reader/writer, a
// controller event loop, a record queue per locally-hosted partition, and
// the raft/serf plumbing that elects a controller and gossips membership.
type Node struct {
	config  *config.Config
	logger  log.Logger
	tracer  opentracing.Tracer
	metrics Metrics

	cache         *cluster.MetadataCache
	events        *controller.ControllerEventManager
	serverLookup  *broker.ServerLookup
	fsm           *controllerfsm.FSM

	raft          *raft.Raft
	raftStore     *raftboltdb.BoltStore
	raftTransport *raft.NetworkTransport
	raftNotifyCh  <-chan bool

	serf       *serf.Serf
	eventChLAN chan serf.Event

	queuesMu sync.Mutex
	queues   map[protocol.TopicPartition]*streams.RecordQueue

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New constructs a Node and starts its raft instance, serf agent, and
// controller event loop. Callers must eventually call Close.
func New(cfg *config.Config, tracer opentracing.Tracer, logger log.Logger, metrics Metrics) (*Node, error) {
	n := &Node{
		config:       cfg,
		logger:       logger.With(log.Int32("id", cfg.ID), log.String("raft addr", cfg.RaftAddr)),
		tracer:       tracer,
		metrics:      metrics,
		cache:        cluster.NewMetadataCache(cfg.ID, logger, metrics),
		serverLookup: broker.NewServerLookup(),
		eventChLAN:   make(chan serf.Event, 256),
		queues:       make(map[protocol.TopicPartition]*streams.RecordQueue),
		shutdownCh:   make(chan struct{}),
	}
	n.fsm = controllerfsm.New(n.logger, fsmSink{n})
	n.events = controller.NewControllerEventManager(nodeProcessor{n}, metrics, n.logger).
		WithDequeueTimeout(cfg.DequeueTimeout)
	// Started before raft/serf so that Close on a setup failure below can
	// stop the event thread instead of waiting on one that never ran.
	n.events.Start()

	if err := n.setupRaft(); err != nil {
		n.Close()
		return nil, errors.Wrap(err, "setup raft")
	}

	var err error
	n.serf, err = n.setupSerf()
	if err != nil {
		n.Close()
		return nil, errors.Wrap(err, "setup serf")
	}

	go n.lanEventHandler()
	go n.monitorLeadership()
	go n.periodicReconcile()

	return n, nil
}

// Cache exposes the node's read-only cluster metadata view.
func (n *Node) Cache() *cluster.MetadataCache { return n.cache }

// SerfAddr is the address this node's serf agent is bound to.
func (n *Node) SerfAddr() string { return n.config.SerfAddr }

// Join contacts the serf cluster at the given addresses.
func (n *Node) Join(addrs ...string) error {
	_, err := n.serf.Join(addrs, true)
	return err
}

// IsController reports whether this node's raft instance currently holds
// leadership, i.e. whether it is the cluster controller.
func (n *Node) IsController() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// RecordQueue returns the record queue for (topic, partition), creating it
// with the given deserializer/extractor if this is the first reference.
func (n *Node) RecordQueue(topic string, partition int32, deserializer streams.Deserializer, extractor streams.TimestampExtractor) *streams.RecordQueue {
	tp := protocol.TopicPartition{Topic: topic, Partition: partition}
	n.queuesMu.Lock()
	defer n.queuesMu.Unlock()
	if q, ok := n.queues[tp]; ok {
		return q
	}
	q := streams.NewRecordQueue(topic, partition, deserializer, extractor, n.metrics, n.logger)
	n.queues[tp] = q
	return q
}

// CreateTopic replicates a new topic's partition assignment via raft. It
// only succeeds on the controller (spec §12: the controller owns the
// authoritative assignment FSM).
func (n *Node) CreateTopic(topic string, partitions int32, replicationFactor int32, brokerIDs []int32) error {
	if !n.IsController() {
		return protocol.ErrNotController.WithErr(fmt.Errorf("node %d is not the controller", n.config.ID))
	}
	if len(brokerIDs) < int(replicationFactor) {
		return protocol.ErrInvalidReplicationFactor.WithErr(
			fmt.Errorf("need %d brokers for replication factor %d, have %d", replicationFactor, replicationFactor, len(brokerIDs)))
	}

	assignments := make([]controllerfsm.PartitionAssignment, 0, partitions)
	for p := int32(0); p < partitions; p++ {
		replicas := make([]int32, replicationFactor)
		for r := int32(0); r < replicationFactor; r++ {
			replicas[r] = brokerIDs[(int(p)+int(r))%len(brokerIDs)]
		}
		assignments = append(assignments, controllerfsm.PartitionAssignment{
			Partition: p,
			Leader:    replicas[0],
			Replicas:  replicas,
			ISR:       replicas,
		})
	}

	return n.applyFSM(controllerfsm.RegisterTopicCommand, controllerfsm.RegisterTopicCommandPayload{
		Topic:      topic,
		Partitions: assignments,
	})
}

// DeleteTopic replicates a topic deletion via raft.
func (n *Node) DeleteTopic(topic string) error {
	if !n.IsController() {
		return protocol.ErrNotController.WithErr(fmt.Errorf("node %d is not the controller", n.config.ID))
	}
	return n.applyFSM(controllerfsm.DeleteTopicCommand, controllerfsm.DeleteTopicCommandPayload{Topic: topic})
}

// Close shuts the node down: the controller event loop, the serf agent, and
// the raft instance, in that order, safe to call more than once.
func (n *Node) Close() error {
	n.shutdownOnce.Do(func() {
		close(n.shutdownCh)

		if n.events != nil {
			n.events.Close()
		}
		if n.serf != nil {
			n.serf.Shutdown()
		}
		if n.raft != nil {
			if n.raftTransport != nil {
				n.raftTransport.Close()
			}
			if err := n.raft.Shutdown().Error(); err != nil {
				n.logger.Error("raft shutdown failed", log.Error("error", err))
			}
			if n.raftStore != nil {
				n.raftStore.Close()
			}
		}
	})
	return nil
}

// setupRaft provisions the raft instance backing controller election,
// grounded on jocko-leader.go's setupRaft.
func (n *Node) setupRaft() error {
	trans, err := raft.NewTCPTransport(n.config.RaftAddr, nil, 3, raftTransportTimeout, nil)
	if err != nil {
		return err
	}
	n.raftTransport = trans

	n.config.RaftConfig.LocalID = raft.ServerID(n.config.ID)
	n.config.RaftConfig.StartAsLeader = n.config.StartAsLeader

	var logStore raft.LogStore
	var stable raft.StableStore
	var snap raft.SnapshotStore
	if n.config.DevMode {
		store := raft.NewInmemStore()
		stable = store
		logStore = store
		snap = raft.NewInmemSnapshotStore()
	} else {
		path := filepath.Join(n.config.DataDir, raftStateDir)
		if err := ensureDir(path); err != nil {
			return err
		}

		store, err := raftboltdb.NewBoltStore(filepath.Join(path, "raft.db"))
		if err != nil {
			return err
		}
		n.raftStore = store
		stable = store

		cacheStore, err := raft.NewLogCache(raftLogCacheSize, store)
		if err != nil {
			return err
		}
		logStore = cacheStore

		snapshots, err := raft.NewFileSnapshotStore(path, snapshotsRetained, nil)
		if err != nil {
			return err
		}
		snap = snapshots
	}

	if n.config.Bootstrap || n.config.DevMode {
		hasState, err := raft.HasExistingState(logStore, stable, snap)
		if err != nil {
			return err
		}
		if !hasState {
			configuration := raft.Configuration{Servers: []raft.Server{
				{ID: n.config.RaftConfig.LocalID, Address: trans.LocalAddr()},
			}}
			if err := raft.BootstrapCluster(n.config.RaftConfig, logStore, stable, snap, trans, configuration); err != nil {
				return err
			}
		}
	}

	notifyCh := make(chan bool, 1)
	n.config.RaftConfig.NotifyCh = notifyCh
	n.raftNotifyCh = notifyCh

	n.raft, err = raft.NewRaft(n.config.RaftConfig, n.fsm, logStore, stable, snap, trans)
	return err
}

// setupSerf provisions the serf agent backing cluster membership gossip,
// tagging this node with its raft identity so peers resolve it via
// broker/metadata.IsBroker (spec §11.2).
func (n *Node) setupSerf() (*serf.Serf, error) {
	serfConfig := n.config.SerfConfig
	serfConfig.MemberlistConfig.BindAddr = addrHost(n.config.SerfAddr)
	serfConfig.MemberlistConfig.BindPort = int(addrPort(n.config.SerfAddr))
	serfConfig.Tags = metadata.Broker{ID: n.config.ID, RaftAddr: n.config.RaftAddr, Rack: n.config.Rack}.Tags()
	serfConfig.EventCh = n.eventChLAN

	if !n.config.DevMode {
		path := filepath.Join(n.config.DataDir, serfSnapshotFile)
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
		serfConfig.SnapshotPath = path
	}

	s, err := serf.Create(serfConfig)
	if err != nil {
		return nil, err
	}
	if len(n.config.StartJoinAddrs) > 0 {
		if _, err := s.Join(n.config.StartJoinAddrs, true); err != nil {
			n.logger.Warn("failed to join cluster at start", log.Error("error", err))
		}
	}
	return s, nil
}

func (n *Node) lanEventHandler() {
	for {
		select {
		case e := <-n.eventChLAN:
			switch e.EventType() {
			case serf.EventMemberJoin, serf.EventMemberFailed, serf.EventMemberLeave, serf.EventMemberUpdate:
				if n.IsController() {
					n.events.Put(reconcileEvent{})
				}
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// monitorLeadership translates raft leadership notifications into
// controller events, grounded on jocko-leader.go's monitorLeadership.
func (n *Node) monitorLeadership() {
	for {
		select {
		case isLeader := <-n.raftNotifyCh:
			if isLeader {
				n.events.Put(leadershipAcquiredEvent{})
			} else {
				n.events.Put(leadershipLostEvent{})
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// periodicReconcile is the safety-net reconcile loop, grounded on
// jocko-leader.go's leaderLoop (`time.After(s.config.ReconcileInterval)`):
// serf and raft notifications drive reconcile in the common case, this
// ticker catches anything a missed event left stale.
func (n *Node) periodicReconcile() {
	interval := n.config.ReconcileInterval
	if interval <= 0 {
		interval = config.DefaultConfig().ReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n.IsController() {
				n.events.Put(reconcileEvent{})
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) reconcileMembership() {
	var liveBrokers []protocol.LiveBroker
	for _, m := range n.serf.Members() {
		if m.Status != serf.StatusAlive {
			continue
		}
		b, ok := metadata.IsBroker(m)
		if !ok {
			continue
		}
		n.serverLookup.AddServer(b)

		endpoints := make([]protocol.EndpointState, 0, len(n.config.Listeners))
		for name, addr := range n.config.Listeners {
			endpoints = append(endpoints, protocol.EndpointState{
				Host: addrHost(addr), Port: addrPort(addr), Listener: name, SecurityProtocol: "PLAINTEXT",
			})
		}
		liveBrokers = append(liveBrokers, protocol.LiveBroker{ID: b.ID, Endpoints: endpoints})
	}

	controllerID := int32(-1)
	if leader := string(n.raft.Leader()); leader != "" {
		if svr := n.serverLookup.Server(n.raft.Leader()); svr != nil {
			controllerID = svr.ID
		}
	}

	n.cache.UpdateMetadata(0, protocol.UpdateMetadataRequest{
		ControllerID: controllerID,
		LiveBrokers:  liveBrokers,
	})
}

func (n *Node) applyFSM(cmdType controllerfsm.CommandType, payload interface{}) error {
	data, err := encodeCommand(cmdType, payload)
	if err != nil {
		return errors.Wrap(err, "encode controller command")
	}
	future := n.raft.Apply(data, raftApplyTimeout)
	return future.Error()
}

// fsmSink loops a committed FSM change back into this node's own
// MetadataCache (spec §12).
type fsmSink struct{ n *Node }

func (s fsmSink) Apply(req protocol.UpdateMetadataRequest) {
	s.n.events.Put(fsmAppliedEvent{req: req})
}

// nodeProcessor adapts Node to controller.Processor, giving the event loop
// a concrete dispatcher for reconcile/leadership/FSM-loopback events.
type nodeProcessor struct{ n *Node }

func (p nodeProcessor) Process(e controller.Event) error {
	tracer := p.n.tracer
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	span := tracer.StartSpan("controller.process." + e.State().Name)
	defer span.Finish()

	switch ev := e.(type) {
	case reconcileEvent:
		p.n.reconcileMembership()
	case fsmAppliedEvent:
		p.n.cache.UpdateMetadata(0, ev.req)
	case leadershipAcquiredEvent:
		p.n.logger.Info("acquired controller leadership")
		p.n.reconcileMembership()
	case leadershipLostEvent:
		p.n.logger.Info("lost controller leadership")
	default:
		p.n.logger.Warn("unknown controller event", log.Any("event", e))
	}
	return nil
}

func (p nodeProcessor) Preempt(e controller.Event) {
	p.n.logger.Debug("controller event preempted", log.Any("event", e))
}
