package node

import (
	"github.com/shoalbroker/shoal/controller"
	"github.com/shoalbroker/shoal/protocol"
)

// reconcileEvent asks the controller to re-derive aliveBrokers from current
// serf membership and publish the result to MetadataCache
// (spec §11.2). Fired on membership changes and on a reconcile interval.
type reconcileEvent struct{}

func (reconcileEvent) State() controller.State { return controller.State{Name: "Reconciling"} }

// fsmAppliedEvent carries an UpdateMetadataRequest derived from a committed
// controllerfsm.FSM change, looped back into the node's own MetadataCache
// (spec §12's FSM loopback).
type fsmAppliedEvent struct {
	req protocol.UpdateMetadataRequest
}

func (fsmAppliedEvent) State() controller.State { return controller.State{Name: "ApplyingMetadata"} }

// leadershipAcquiredEvent fires when this node's raft instance becomes the
// controller, triggering an immediate reconcile.
type leadershipAcquiredEvent struct{}

func (leadershipAcquiredEvent) State() controller.State {
	return controller.State{Name: "LeadershipAcquired"}
}

// leadershipLostEvent fires when this node stops being the controller.
type leadershipLostEvent struct{}

func (leadershipLostEvent) State() controller.State {
	return controller.State{Name: "LeadershipLost"}
}
