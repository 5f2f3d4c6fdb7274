package cluster

// Sentinels shared across the cluster metadata model (spec §3, §6).
const (
	// NoLeader marks a partition with no elected leader.
	NoLeader int32 = -1
	// LeaderDuringDelete marks a partition that is being torn down; seeing
	// it in an incoming PartitionState means "remove this partition".
	LeaderDuringDelete int32 = -2
	// EpochDuringDelete is the leader epoch paired with LeaderDuringDelete.
	EpochDuringDelete int32 = -2
	// NoLeaderID is returned in assembled responses when the leader has
	// been filtered out of view (spec §4.1).
	NoLeaderID int32 = -1
)

// LeaderRecoveryState distinguishes a partition leader that came up through
// the normal ISR-shrink/grow path from one that was force-elected outside
// the ISR (unclean leader election) and has not yet proven it caught up.
type LeaderRecoveryState int8

const (
	Recovered LeaderRecoveryState = iota
	Recovering
)

// LeaderAndIsr is the immutable per-partition leadership descriptor the
// controller hands down (spec §3). leaderEpoch and partitionEpoch are
// monotonically increasing across the life of the partition.
type LeaderAndIsr struct {
	LeaderID            int32
	LeaderEpoch         int32
	ISR                 []int32
	LeaderRecoveryState LeaderRecoveryState
	PartitionEpoch      int32
}

// NewLeaderAndIsr builds a LeaderAndIsr with LeaderRecoveryState Recovered,
// the common case.
func NewLeaderAndIsr(leaderID, leaderEpoch int32, isr []int32, partitionEpoch int32) LeaderAndIsr {
	return LeaderAndIsr{
		LeaderID:            leaderID,
		LeaderEpoch:         leaderEpoch,
		ISR:                 isr,
		LeaderRecoveryState: Recovered,
		PartitionEpoch:      partitionEpoch,
	}
}

// EqualIgnoringPartitionEpoch compares everything but PartitionEpoch, per
// spec §3 ("Equality ignoring partition epoch compares the other four
// fields").
func (l LeaderAndIsr) EqualIgnoringPartitionEpoch(o LeaderAndIsr) bool {
	if l.LeaderID != o.LeaderID || l.LeaderEpoch != o.LeaderEpoch || l.LeaderRecoveryState != o.LeaderRecoveryState {
		return false
	}
	if len(l.ISR) != len(o.ISR) {
		return false
	}
	for i, r := range l.ISR {
		if o.ISR[i] != r {
			return false
		}
	}
	return true
}
