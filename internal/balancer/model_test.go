package balancer

import (
	"testing"

	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
)

const GiB = int64(1) << 30

// buildSnapshot assembles a snapshot the way the collector would, deriving
// all allocations from the VM set.
func buildSnapshot(nodes []*cluster.Node, vms []*cluster.VM) *cluster.Snapshot {
	snap := &cluster.Snapshot{
		Nodes: make(map[string]*cluster.Node),
		VMs:   make(map[int]*cluster.VM),
	}
	for _, node := range nodes {
		node.Online = true
		snap.Nodes[node.Name] = node
		snap.MemTotal += node.MemTotal
		snap.CPUTotal += node.CPUTotal
	}
	for _, vm := range vms {
		snap.VMs[vm.ID] = vm
		node := snap.Nodes[vm.Node]
		node.MemAlloc += vm.MaxMem
		node.CPUAlloc += vm.CPUs
		node.VMCount++
		snap.MemAlloc += vm.MaxMem
		snap.CPUAlloc += vm.CPUs
		snap.TotalVMs++
	}
	return snap
}

func node(name string, memGiB int64, cpus int) *cluster.Node {
	return &cluster.Node{Name: name, MemTotal: memGiB * GiB, CPUTotal: cpus}
}

func vm(id int, nodeName string, memGiB int64, cpus int, status string) *cluster.VM {
	return &cluster.VM{ID: id, Node: nodeName, MaxMem: memGiB * GiB, CPUs: cpus, Status: status}
}

func TestUtilizationFixedPoint(t *testing.T) {
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 20, 4, "stopped"),
			vm(101, "a", 20, 4, "stopped"),
			vm(102, "a", 20, 4, "stopped"),
			vm(103, "a", 20, 4, "stopped"),
		},
	)
	model := NewModel(snap)

	if got := model.Utilization(snap.Nodes["a"], ModeMemory); got != 8000 {
		t.Errorf("memory utilization of a = %d bp, want 8000", got)
	}
	if got := model.Utilization(snap.Nodes["b"], ModeMemory); got != 0 {
		t.Errorf("memory utilization of b = %d bp, want 0", got)
	}
	if got := model.Utilization(snap.Nodes["a"], ModeCPU); got != 5000 {
		t.Errorf("cpu utilization of a = %d bp, want 5000", got)
	}
	if got := model.Utilization(snap.Nodes["a"], ModeCount); got != 4 {
		t.Errorf("count utilization of a = %d, want 4", got)
	}
}

func TestTargetAndThreshold(t *testing.T) {
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 20, 4, "stopped"),
			vm(101, "a", 20, 4, "stopped"),
			vm(102, "a", 20, 4, "stopped"),
			vm(103, "a", 20, 4, "stopped"),
		},
	)
	model := NewModel(snap)

	// 80 GiB over 200 GiB of capacity.
	if got := model.Target(ModeMemory); got != 4000 {
		t.Errorf("memory target = %d bp, want 4000", got)
	}
	if got := model.Threshold(ModeMemory); got != 400 {
		t.Errorf("memory threshold = %d bp, want 400", got)
	}
	if got := model.Target(ModeCount); got != 2 {
		t.Errorf("count target = %d, want 2", got)
	}
	if got := model.Threshold(ModeCount); got != 1 {
		t.Errorf("count threshold = %d, want 1", got)
	}
}

func TestThresholdFloorInLightlyLoadedCluster(t *testing.T) {
	// 1 GiB allocated over 400 GiB: target is 25 bp, 10% of which would be
	// 2 bp. The floor keeps the band at 100 bp.
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 200, 32), node("b", 200, 32)},
		[]*cluster.VM{vm(100, "a", 1, 1, "stopped")},
	)
	model := NewModel(snap)

	if got := model.Threshold(ModeMemory); got != 100 {
		t.Errorf("threshold = %d bp, want floor of 100", got)
	}
}

func TestClassify(t *testing.T) {
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 20, 4, "stopped"),
			vm(101, "a", 20, 4, "stopped"),
			vm(102, "a", 20, 4, "stopped"),
			vm(103, "a", 20, 4, "stopped"),
		},
	)
	model := NewModel(snap)

	if got := model.Classify(snap.Nodes["a"], ModeMemory); got != Overloaded {
		t.Errorf("a classified %v, want overloaded", got)
	}
	if got := model.Classify(snap.Nodes["b"], ModeMemory); got != Underloaded {
		t.Errorf("b classified %v, want underloaded", got)
	}
	if !model.NeedsRebalance(ModeMemory) {
		t.Error("NeedsRebalance = false, want true")
	}
}

func TestBalancedClusterNeedsNothing(t *testing.T) {
	// Two nodes each at 50% of 100 GiB.
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 50, 8, "running"),
			vm(101, "b", 50, 8, "running"),
		},
	)
	model := NewModel(snap)

	for _, name := range []string{"a", "b"} {
		if got := model.Classify(snap.Nodes[name], ModeMemory); got != Balanced {
			t.Errorf("%s classified %v, want balanced", name, got)
		}
	}
	if model.NeedsRebalance(ModeMemory) {
		t.Error("NeedsRebalance = true, want false")
	}
	if plan := Plan(snap, ModeMemory, DefaultMaxMigrations); len(plan) != 0 {
		t.Errorf("Plan returned %d moves for a balanced cluster, want 0", len(plan))
	}
}

func TestCountClassificationBand(t *testing.T) {
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32), node("c", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 1, 1, "stopped"),
			vm(101, "a", 1, 1, "stopped"),
			vm(102, "a", 1, 1, "stopped"),
			vm(103, "b", 1, 1, "stopped"),
			vm(104, "b", 1, 1, "stopped"),
			vm(105, "c", 1, 1, "stopped"),
		},
	)
	model := NewModel(snap)

	// Target is 2; a=3 and c=1 are inside the +/-1 band.
	if got := model.Classify(snap.Nodes["a"], ModeCount); got != Balanced {
		t.Errorf("a classified %v, want balanced", got)
	}
	if got := model.Classify(snap.Nodes["c"], ModeCount); got != Balanced {
		t.Errorf("c classified %v, want balanced", got)
	}
	if model.NeedsRebalance(ModeCount) {
		t.Error("NeedsRebalance = true inside the count band, want false")
	}
}

func TestDegradedNodesExcludedFromRebalanceCheck(t *testing.T) {
	snap := buildSnapshot(
		[]*cluster.Node{node("a", 100, 32), node("b", 100, 32)},
		[]*cluster.VM{
			vm(100, "a", 80, 8, "running"),
		},
	)
	snap.Nodes["a"].Degraded = true
	model := NewModel(snap)

	if model.NeedsRebalance(ModeMemory) {
		t.Error("NeedsRebalance = true with only a degraded node overloaded, want false")
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeMemory, false},
		{"memory", ModeMemory, false},
		{"cpu", ModeCPU, false},
		{"count", ModeCount, false},
		{"storage", "", true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
