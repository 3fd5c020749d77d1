package partition

import (
	"hash/fnv"
	"sort"
)

// Affinity computes, for a given topology version, which nodes own and
// back up each partition, using rendezvous (highest random weight)
// hashing. The topology version is part of every weight, so assignments
// at two different versions are independent of each other: a membership
// change that advances the version can move any partition, not only the
// ones the added or removed node touches.
type Affinity struct {
	partitionCount int
	backupCount    int
}

// NewAffinity creates an affinity function over partitionCount
// partitions with backupCount backup copies per partition in addition
// to the primary.
func NewAffinity(partitionCount, backupCount int) *Affinity {
	return &Affinity{partitionCount: partitionCount, backupCount: backupCount}
}

// PartitionCount returns the fixed number of partitions this affinity
// function spreads across nodes.
func (a *Affinity) PartitionCount() int { return a.partitionCount }

// PartitionFor returns the partition id a key belongs to.
func (a *Affinity) PartitionFor(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % a.partitionCount
}

// AssignPartitions computes, for every partition, the ordered list of
// owning nodes (primary first, then backups) at a given topology
// version, from the current set of live node ids. The topology version
// is mixed into the hash so that each version produces an independent
// (but deterministic) shuffle.
func (a *Affinity) AssignPartitions(nodeIDs []string, topologyVersion int64) map[int][]string {
	assignment := make(map[int][]string, a.partitionCount)
	replicas := a.backupCount + 1

	for part := 0; part < a.partitionCount; part++ {
		type weighted struct {
			node   string
			weight uint64
		}
		weights := make([]weighted, len(nodeIDs))
		for i, node := range nodeIDs {
			weights[i] = weighted{node: node, weight: rendezvousWeight(node, part, topologyVersion)}
		}
		sort.Slice(weights, func(i, j int) bool {
			if weights[i].weight != weights[j].weight {
				return weights[i].weight > weights[j].weight
			}
			return weights[i].node < weights[j].node
		})

		n := replicas
		if n > len(weights) {
			n = len(weights)
		}
		owners := make([]string, n)
		for i := 0; i < n; i++ {
			owners[i] = weights[i].node
		}
		assignment[part] = owners
	}
	return assignment
}

func rendezvousWeight(node string, partition int, topologyVersion int64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(node))
	h.Write(intBytes(partition))
	h.Write(intBytes64(topologyVersion))
	return h.Sum64()
}

func intBytes(v int) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func intBytes64(v int64) []byte {
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
