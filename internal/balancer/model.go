package balancer

import (
	"fmt"

	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
)

// Mode selects the resource dimension being balanced.
type Mode string

const (
	ModeMemory Mode = "memory"
	ModeCPU    Mode = "cpu"
	ModeCount  Mode = "count"
)

// ParseMode validates a mode argument; the empty string defaults to memory.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeMemory):
		return ModeMemory, nil
	case string(ModeCPU):
		return ModeCPU, nil
	case string(ModeCount):
		return ModeCount, nil
	default:
		return "", fmt.Errorf("unknown balance mode %q (want memory, cpu or count)", s)
	}
}

// utilScale is the fixed-point basis: utilizations are expressed in basis
// points (x10000) so all scoring arithmetic stays in integers.
const utilScale = 10000

// minThresholdBP keeps the memory/cpu threshold from collapsing to zero in
// lightly-loaded clusters (100 bp = 1%).
const minThresholdBP = 100

// Classification is the balance state of a single node.
type Classification int

const (
	Balanced Classification = iota
	Overloaded
	Underloaded
)

func (c Classification) String() string {
	switch c {
	case Overloaded:
		return "overloaded"
	case Underloaded:
		return "underloaded"
	default:
		return "balanced"
	}
}

// Model answers utilization and classification queries over a snapshot.
// All queries are pure reads; only the snapshot's per-node allocations
// change between calls (totals are conserved across migrations).
type Model struct {
	snap *cluster.Snapshot
}

// NewModel wraps a snapshot for balance queries.
func NewModel(snap *cluster.Snapshot) *Model {
	return &Model{snap: snap}
}

// Utilization returns the node's utilization in the given mode: basis
// points of capacity for memory and cpu, the raw VM count for count.
func (m *Model) Utilization(node *cluster.Node, mode Mode) int {
	switch mode {
	case ModeCPU:
		return int(int64(node.CPUAlloc) * utilScale / int64(node.CPUTotal))
	case ModeCount:
		return node.VMCount
	default:
		return int(node.MemAlloc * utilScale / node.MemTotal)
	}
}

// utilizationAfter simulates the node's utilization once delta (a VM's
// claim in the selected mode) has been added or removed.
func (m *Model) utilizationAfter(node *cluster.Node, mode Mode, vm *cluster.VM, add bool) int {
	sign := int64(1)
	if !add {
		sign = -1
	}
	switch mode {
	case ModeCPU:
		return int((int64(node.CPUAlloc) + sign*int64(vm.CPUs)) * utilScale / int64(node.CPUTotal))
	case ModeCount:
		return node.VMCount + int(sign)
	default:
		return int((node.MemAlloc + sign*vm.MaxMem) * utilScale / node.MemTotal)
	}
}

// Target returns the cluster-wide goal every node is driven toward: the
// cluster utilization in basis points for memory/cpu, floor(vms/nodes)
// for count.
func (m *Model) Target(mode Mode) int {
	switch mode {
	case ModeCPU:
		if m.snap.CPUTotal == 0 {
			return 0
		}
		return int(int64(m.snap.CPUAlloc) * utilScale / int64(m.snap.CPUTotal))
	case ModeCount:
		if len(m.snap.Nodes) == 0 {
			return 0
		}
		return m.snap.TotalVMs / len(m.snap.Nodes)
	default:
		if m.snap.MemTotal == 0 {
			return 0
		}
		return int(m.snap.MemAlloc * utilScale / m.snap.MemTotal)
	}
}

// Threshold returns the band around the target within which a node counts
// as balanced: 10% of the target (floor 1%) for memory/cpu, 1 for count.
func (m *Model) Threshold(mode Mode) int {
	if mode == ModeCount {
		return 1
	}
	threshold := m.Target(mode) / 10
	if threshold < minThresholdBP {
		threshold = minThresholdBP
	}
	return threshold
}

// Classify places a node relative to the target band.
func (m *Model) Classify(node *cluster.Node, mode Mode) Classification {
	util := m.Utilization(node, mode)
	target := m.Target(mode)
	threshold := m.Threshold(mode)

	switch {
	case util-target > threshold:
		return Overloaded
	case target-util > threshold:
		return Underloaded
	default:
		return Balanced
	}
}

// NeedsRebalance reports whether at least one eligible node is overloaded.
func (m *Model) NeedsRebalance(mode Mode) bool {
	for _, name := range m.snap.EligibleNodes() {
		if m.Classify(m.snap.Nodes[name], mode) == Overloaded {
			return true
		}
	}
	return false
}

// deviation is |util - target|, the per-node term of the imbalance score.
func deviation(util, target int) int {
	if util > target {
		return util - target
	}
	return target - util
}
