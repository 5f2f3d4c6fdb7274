// Package testutil spins up ephemeral shoal nodes for integration tests,
// grounded on jocko's testutil/testing.go (NewTestServer/TestJoin), adapted
// to start node.Node instances instead of the wire-protocol server (out of
// scope per spec §1 Non-goals).
package testutil

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	testing "github.com/mitchellh/go-testing-interface"
	dynaport "github.com/travisjeffery/go-dynaport"

	"github.com/shoalbroker/shoal/config"
	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/metrics"
	"github.com/shoalbroker/shoal/node"
)

var (
	nodeNumber int32
	tempDir    string
	logger     = log.New()
)

func init() {
	var err error
	tempDir, err = ioutil.TempDir("", "shoal-test-cluster")
	if err != nil {
		panic(err)
	}
}

// NewTestNode starts a Node bound to ephemeral ports, tightened serf/raft
// timing suitable for fast tests, and DevMode raft storage (no on-disk raft
// log, since disk storage of the partition log itself stays out of scope).
// cb, if non-nil, can override the config before the node starts.
func NewTestNode(t testing.T, cb func(cfg *config.Config)) *node.Node {
	ports := dynaport.GetS(3)
	id := atomic.AddInt32(&nodeNumber, 1)

	cfg := config.DefaultConfig()
	cfg.ID = id
	cfg.DataDir = filepath.Join(tempDir, fmt.Sprintf("node%d", id))
	cfg.RaftAddr = "127.0.0.1:" + ports[0]
	cfg.SerfAddr = "127.0.0.1:" + ports[1]
	cfg.Listeners = map[string]string{"PLAINTEXT": "127.0.0.1:" + ports[2]}
	cfg.DevMode = true
	cfg.Bootstrap = true

	cfg.SerfConfig.NodeName = fmt.Sprintf("shoal-node-%d", id)
	cfg.SerfConfig.MemberlistConfig.SuspicionMult = 2
	cfg.SerfConfig.MemberlistConfig.RetransmitMult = 2
	cfg.SerfConfig.MemberlistConfig.ProbeTimeout = 50 * time.Millisecond
	cfg.SerfConfig.MemberlistConfig.ProbeInterval = 100 * time.Millisecond
	cfg.SerfConfig.MemberlistConfig.GossipInterval = 100 * time.Millisecond

	cfg.RaftConfig.LeaderLeaseTimeout = 50 * time.Millisecond
	cfg.RaftConfig.HeartbeatTimeout = 50 * time.Millisecond
	cfg.RaftConfig.ElectionTimeout = 50 * time.Millisecond

	if cb != nil {
		cb(cfg)
	}

	n, err := node.New(cfg, opentracing.NoopTracer{}, logger, metrics.New())
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}
	return n
}

// TestJoin joins every node in others to n1's serf cluster over n1's serf
// address.
func TestJoin(t testing.T, n1 *node.Node, others ...*node.Node) {
	for _, n2 := range others {
		if err := n2.Join(n1.SerfAddr()); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}
