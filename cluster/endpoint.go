package cluster

// EndPoint is one network endpoint a broker advertises: a protocol+host+port
// tied to a named listener (spec §3).
type EndPoint struct {
	Host             string
	Port             int32
	ListenerName     string
	SecurityProtocol string
}

// BrokerInfo is a live broker and every endpoint it advertises (spec §3's
// Broker value). Rack is nil when the broker did not report one.
type BrokerInfo struct {
	ID        int32
	Endpoints []EndPoint
	Rack      *string
}

// NodeForListener resolves the network address this broker exposes for the
// given listener name. ok is false if the broker does not expose it.
func (b BrokerInfo) NodeForListener(listener string) (NodeInfo, bool) {
	for _, ep := range b.Endpoints {
		if ep.ListenerName == listener {
			return NodeInfo{ID: b.ID, Host: ep.Host, Port: ep.Port}, true
		}
	}
	return NodeInfo{}, false
}

// NodeInfo is the resolved, listener-specific network address of a broker.
type NodeInfo struct {
	ID   int32
	Host string
	Port int32
}

// NoNode is the sentinel returned when a leader is known but not reachable
// on the requested listener (spec §4.1, scenario S1).
var NoNode = NodeInfo{ID: NoLeaderID, Host: "", Port: -1}
