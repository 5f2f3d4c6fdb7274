package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	gracefully "github.com/tj/go-gracefully"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"
	jaegermetrics "github.com/uber/jaeger-lib/metrics"

	"github.com/uber/jaeger-client-go"

	"github.com/shoalbroker/shoal/config"
	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/metrics"
	"github.com/shoalbroker/shoal/node"
)

var (
	cli = &cobra.Command{
		Use:   "shoal",
		Short: "A distributed broker control plane",
	}

	nodeCfg = struct {
		ID        int32
		DataDir   string
		RaftAddr  string
		SerfAddr  string
		Listeners []string
		Join      []string
		Bootstrap bool
	}{}

	topicCfg = struct {
		NodeAddr          string
		Topic             string
		Partitions        int32
		ReplicationFactor int
	}{}
)

func init() {
	nodeCmd := &cobra.Command{Use: "node run", Short: "Run a shoal node", Run: run}
	nodeCmd.Flags().Int32Var(&nodeCfg.ID, "id", 0, "Node ID")
	nodeCmd.Flags().StringVar(&nodeCfg.DataDir, "data-dir", "/tmp/shoal", "Directory under which to store raft/serf state")
	nodeCmd.Flags().StringVar(&nodeCfg.RaftAddr, "raft-addr", "127.0.0.1:9093", "Address for raft to bind and advertise on")
	nodeCmd.Flags().StringVar(&nodeCfg.SerfAddr, "serf-addr", "127.0.0.1:9094", "Address for serf to bind on")
	nodeCmd.Flags().StringSliceVar(&nodeCfg.Listeners, "listener", []string{"PLAINTEXT=127.0.0.1:9092"}, "name=host:port listener this node advertises, may be repeated")
	nodeCmd.Flags().StringSliceVar(&nodeCfg.Join, "join", nil, "Address of a node's serf agent to join at start time, may be repeated")
	nodeCmd.Flags().BoolVar(&nodeCfg.Bootstrap, "bootstrap", false, "Bootstrap a new single-node raft cluster")

	topicCmd := &cobra.Command{Use: "topic", Short: "Manage topics"}
	createTopicCmd := &cobra.Command{Use: "create", Short: "Create a topic", Run: createTopic}
	createTopicCmd.Flags().StringVar(&topicCfg.NodeAddr, "node-addr", "127.0.0.1:9092", "Address of a node to send the request to")
	createTopicCmd.Flags().StringVar(&topicCfg.Topic, "topic", "", "Name of topic to create")
	createTopicCmd.Flags().Int32Var(&topicCfg.Partitions, "partitions", 1, "Number of partitions")
	createTopicCmd.Flags().IntVar(&topicCfg.ReplicationFactor, "replication-factor", 1, "Replication factor")

	cli.AddCommand(nodeCmd)
	cli.AddCommand(topicCmd)
	topicCmd.AddCommand(createTopicCmd)
}

func parseListeners(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, l := range raw {
		parts := strings.SplitN(l, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func run(cmd *cobra.Command, args []string) {
	logger := log.New().With(
		log.Int32("id", nodeCfg.ID),
		log.String("raft addr", nodeCfg.RaftAddr),
		log.String("serf addr", nodeCfg.SerfAddr),
	)

	cfg := config.DefaultConfig()
	cfg.ID = nodeCfg.ID
	cfg.DataDir = nodeCfg.DataDir
	cfg.RaftAddr = nodeCfg.RaftAddr
	cfg.SerfAddr = nodeCfg.SerfAddr
	cfg.Listeners = parseListeners(nodeCfg.Listeners)
	cfg.StartJoinAddrs = nodeCfg.Join
	cfg.Bootstrap = nodeCfg.Bootstrap
	cfg.SerfConfig.NodeName = fmt.Sprintf("shoal-node-%d", nodeCfg.ID)

	jcfg := jaegercfg.Configuration{
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: true,
		},
	}

	tracer, closer, err := jcfg.New(
		"shoal",
		jaegercfg.Logger(jaegerlog.StdLogger),
		jaegercfg.Metrics(jaegermetrics.NullFactory),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting tracer: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	n, err := node.New(cfg, tracer, logger, metrics.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting node: %v\n", err)
		os.Exit(1)
	}

	gracefully.Timeout = 10 * time.Second
	gracefully.Shutdown()

	if err := n.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down node: %v\n", err)
		os.Exit(1)
	}
}

func createTopic(cmd *cobra.Command, args []string) {
	fmt.Fprintln(os.Stderr, "topic create is a placeholder: shoal's wire protocol is out of scope, so this CLI path has no node to dial yet")
	os.Exit(1)
}

func main() {
	cli.Execute()
}
