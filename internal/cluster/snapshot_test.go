package cluster

import (
	"testing"
)

func testSnapshot() *Snapshot {
	snap := &Snapshot{
		Nodes: map[string]*Node{
			"a": {Name: "a", Online: true, MemTotal: 100 * gib, CPUTotal: 32},
			"b": {Name: "b", Online: true, MemTotal: 100 * gib, CPUTotal: 32},
		},
		VMs: map[int]*VM{
			100: {ID: 100, Node: "a", MaxMem: 20 * gib, CPUs: 4, Status: "running"},
			101: {ID: 101, Node: "a", MaxMem: 10 * gib, CPUs: 2, Status: "stopped"},
		},
	}
	for _, vmRef := range snap.VMs {
		node := snap.Nodes[vmRef.Node]
		node.MemAlloc += vmRef.MaxMem
		node.CPUAlloc += vmRef.CPUs
		node.VMCount++
	}
	snap.MemTotal = 200 * gib
	snap.CPUTotal = 64
	snap.MemAlloc = 30 * gib
	snap.CPUAlloc = 6
	snap.TotalVMs = 2
	return snap
}

func TestApplyMovesAllocations(t *testing.T) {
	snap := testSnapshot()

	if err := snap.Apply(100, "a", "b"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	a, b := snap.Nodes["a"], snap.Nodes["b"]
	if a.MemAlloc != 10*gib || a.CPUAlloc != 2 || a.VMCount != 1 {
		t.Errorf("source after move: %d bytes, %d cpus, %d vms", a.MemAlloc, a.CPUAlloc, a.VMCount)
	}
	if b.MemAlloc != 20*gib || b.CPUAlloc != 4 || b.VMCount != 1 {
		t.Errorf("target after move: %d bytes, %d cpus, %d vms", b.MemAlloc, b.CPUAlloc, b.VMCount)
	}
	if snap.VMs[100].Node != "b" {
		t.Errorf("vm 100 assigned to %s, want b", snap.VMs[100].Node)
	}

	// Cluster totals are conserved.
	if snap.MemAlloc != 30*gib || snap.CPUAlloc != 6 || snap.TotalVMs != 2 {
		t.Error("cluster totals changed by a migration")
	}
}

func TestApplyRejectsWrongSource(t *testing.T) {
	snap := testSnapshot()

	if err := snap.Apply(100, "b", "a"); err == nil {
		t.Error("Apply accepted a move from the wrong source")
	}
	if err := snap.Apply(999, "a", "b"); err == nil {
		t.Error("Apply accepted an unknown vm")
	}
	if err := snap.Apply(100, "a", "nope"); err == nil {
		t.Error("Apply accepted an unknown target")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	snap := testSnapshot()
	clone := snap.Clone()

	if err := clone.Apply(100, "a", "b"); err != nil {
		t.Fatalf("Apply on clone: %v", err)
	}

	if snap.VMs[100].Node != "a" {
		t.Error("mutating the clone reassigned a VM in the original")
	}
	if snap.Nodes["a"].MemAlloc != 30*gib {
		t.Error("mutating the clone changed the original's allocations")
	}
}

func TestVMsOnOrderedByID(t *testing.T) {
	snap := testSnapshot()
	snap.VMs[99] = &VM{ID: 99, Node: "a", MaxMem: gib, CPUs: 1}
	snap.Nodes["a"].VMCount++

	vms := snap.VMsOn("a")
	for i := 1; i < len(vms); i++ {
		if vms[i-1].ID >= vms[i].ID {
			t.Fatalf("VMsOn not ordered: %d before %d", vms[i-1].ID, vms[i].ID)
		}
	}
}
