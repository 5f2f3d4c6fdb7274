package node

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/shoalbroker/shoal/controllerfsm"
)

const (
	raftTransportTimeout = 10 * time.Second
	raftApplyTimeout     = 30 * time.Second
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func addrHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func addrPort(addr string) int32 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return int32(port)
}

type rawCommand struct {
	Type    controllerfsm.CommandType
	Payload json.RawMessage
}

func encodeCommand(cmdType controllerfsm.CommandType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawCommand{Type: cmdType, Payload: raw})
}
