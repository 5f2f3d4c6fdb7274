package cluster

// PartitionState is the cache's resident record of one partition's
// leadership and replica assignment (spec §3). Replicas and ISR preserve
// the controller-supplied order, since response construction echoes it
// back verbatim.
type PartitionState struct {
	Topic           string
	PartitionIndex  int32
	LeaderID        int32
	LeaderEpoch     int32
	Replicas        []int32
	ISR             []int32
	OfflineReplicas []int32
}

func copyInt32s(s []int32) []int32 {
	if s == nil {
		return nil
	}
	out := make([]int32, len(s))
	copy(out, s)
	return out
}

func (p PartitionState) clone() PartitionState {
	p.Replicas = copyInt32s(p.Replicas)
	p.ISR = copyInt32s(p.ISR)
	p.OfflineReplicas = copyInt32s(p.OfflineReplicas)
	return p
}
