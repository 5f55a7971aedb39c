package balancer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

// fakeClock advances virtual time on every sleep so poll loops run
// instantly in tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// fakeClient scripts migration outcomes per vmid: "ok" (default), "fail"
// (task stops with an error exit) or "hang" (task never stops).
type fakeClient struct {
	outcome   map[int]string
	startErr  map[int]error
	emptyTask map[int]bool

	nextTask int
	tasks    map[proxmox.TaskID]int
	online   map[int]bool
	started  []int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		outcome:   make(map[int]string),
		startErr:  make(map[int]error),
		emptyTask: make(map[int]bool),
		tasks:     make(map[proxmox.TaskID]int),
		online:    make(map[int]bool),
	}
}

func (c *fakeClient) StartMigration(source string, vmid int, target string, online bool) (proxmox.TaskID, error) {
	c.started = append(c.started, vmid)
	if err := c.startErr[vmid]; err != nil {
		return "", err
	}
	if c.emptyTask[vmid] {
		return "", nil
	}
	c.online[vmid] = online
	c.nextTask++
	task := proxmox.TaskID(fmt.Sprintf("UPID:node:%08d:migrate:%d", c.nextTask, vmid))
	c.tasks[task] = vmid
	return task, nil
}

func (c *fakeClient) TaskStatus(node string, task proxmox.TaskID) (*proxmox.TaskStatus, error) {
	vmid, ok := c.tasks[task]
	if !ok {
		return nil, &proxmox.APIError{Kind: proxmox.KindNotFound, Op: "TaskStatus", Path: string(task)}
	}
	switch c.outcome[vmid] {
	case "hang":
		return &proxmox.TaskStatus{Status: "running"}, nil
	case "fail":
		return &proxmox.TaskStatus{Status: "stopped", ExitStatus: "migration aborted"}, nil
	default:
		return &proxmox.TaskStatus{Status: "stopped", ExitStatus: proxmox.TaskStatusOK}, nil
	}
}

func (c *fakeClient) ListNodes() ([]string, error)                      { return nil, nil }
func (c *fakeClient) NodeStatus(string) (*proxmox.NodeStatus, error)    { return nil, nil }
func (c *fakeClient) ListVMs(string) ([]proxmox.VMInfo, error)          { return nil, nil }
func (c *fakeClient) VMStatus(string, int) (*proxmox.VMStatus, error)   { return nil, nil }
func (c *fakeClient) ListHAResources() ([]proxmox.HAResource, error)    { return nil, nil }
func (c *fakeClient) ListStorages(string) ([]proxmox.StorageInfo, error) { return nil, nil }
func (c *fakeClient) ListStorageContent(string, string) ([]proxmox.StorageContentItem, error) {
	return nil, nil
}
func (c *fakeClient) MoveVolume(string, string, string) error { return nil }
func (c *fakeClient) MoveDisk(string, int, string, string) (proxmox.TaskID, error) {
	return "", nil
}

func testSupervisor(client *fakeClient) (*Supervisor, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewSupervisor(client).WithClock(clock), clock
}

func TestSupervisorSuccess(t *testing.T) {
	client := newFakeClient()
	sup, _ := testSupervisor(client)

	mig := Migration{VMID: 100, Source: "a", Target: "b"}
	if err := sup.Execute(mig, vm(100, "a", 20, 4, "running")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !client.online[100] {
		t.Error("running VM was not migrated online")
	}
}

func TestSupervisorStoppedVMMigratesOffline(t *testing.T) {
	client := newFakeClient()
	sup, _ := testSupervisor(client)

	mig := Migration{VMID: 100, Source: "a", Target: "b"}
	if err := sup.Execute(mig, vm(100, "a", 20, 4, "stopped")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if client.online[100] {
		t.Error("stopped VM was migrated online")
	}
}

func TestSupervisorMigrationFailed(t *testing.T) {
	client := newFakeClient()
	client.outcome[100] = "fail"
	sup, _ := testSupervisor(client)

	err := sup.Execute(Migration{VMID: 100, Source: "a", Target: "b"}, vm(100, "a", 20, 4, "running"))
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != MigrationFailed {
		t.Fatalf("error = %v, want MigrationFailed", err)
	}
}

func TestSupervisorStartFailed(t *testing.T) {
	client := newFakeClient()
	client.startErr[100] = &proxmox.APIError{Kind: proxmox.KindPermissionDenied, Op: "StartMigration"}
	sup, _ := testSupervisor(client)

	err := sup.Execute(Migration{VMID: 100, Source: "a", Target: "b"}, vm(100, "a", 20, 4, "running"))
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != StartFailed {
		t.Fatalf("error = %v, want StartFailed", err)
	}
}

func TestSupervisorMissingTaskIDIsStartFailure(t *testing.T) {
	client := newFakeClient()
	client.emptyTask[100] = true
	sup, _ := testSupervisor(client)

	err := sup.Execute(Migration{VMID: 100, Source: "a", Target: "b"}, vm(100, "a", 20, 4, "running"))
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != StartFailed {
		t.Fatalf("error = %v, want StartFailed", err)
	}
}

func TestSupervisorTimeout(t *testing.T) {
	client := newFakeClient()
	client.outcome[100] = "hang"
	sup, clock := testSupervisor(client)
	start := clock.Now()

	err := sup.Execute(Migration{VMID: 100, Source: "a", Target: "b"}, vm(100, "a", 20, 4, "running"))
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != Timeout {
		t.Fatalf("error = %v, want Timeout", err)
	}

	elapsed := clock.Now().Sub(start)
	if elapsed >= DefaultTimeout || elapsed < DefaultTimeout-2*DefaultPollInterval {
		t.Errorf("gave up after %s, want just inside the %s deadline", elapsed, DefaultTimeout)
	}
}

func TestSupervisorHATimeoutIsLonger(t *testing.T) {
	client := newFakeClient()
	client.outcome[100] = "hang"
	sup, clock := testSupervisor(client)
	start := clock.Now()

	haVM := vm(100, "a", 20, 4, "running")
	haVM.HA = true
	err := sup.Execute(Migration{VMID: 100, Source: "a", Target: "b"}, haVM)
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != Timeout {
		t.Fatalf("error = %v, want Timeout", err)
	}

	elapsed := clock.Now().Sub(start)
	if elapsed < DefaultTimeout {
		t.Errorf("HA migration gave up after %s, before the ordinary %s deadline", elapsed, DefaultTimeout)
	}
	if elapsed >= DefaultHATimeout {
		t.Errorf("HA migration ran %s, past the %s deadline", elapsed, DefaultHATimeout)
	}
}

// TestRunHATimeoutPreservesSnapshot drives the planner with the real
// supervisor over a scripted cluster: the first candidate is HA-managed and
// its migration never completes, the rest migrate fine.
func TestRunHATimeoutPreservesSnapshot(t *testing.T) {
	snap := twoNodeCluster()
	snap.VMs[100].HA = true

	client := newFakeClient()
	client.outcome[100] = "hang"
	sup, clock := testSupervisor(client)
	start := clock.Now()

	planner := NewPlanner()
	summary, err := planner.Run(context.Background(), snap, ModeMemory, sup)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if counts := summary.FailureCounts(); counts[Timeout] != 1 {
		t.Fatalf("timeouts = %d, want 1", counts[Timeout])
	}
	if got := snap.VMs[100].Node; got != "a" {
		t.Errorf("timed-out vm 100 moved to %s in the snapshot, want a", got)
	}
	if got := summary.Succeeded(); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if snap.Nodes["a"].MemAlloc != 40*GiB || snap.Nodes["b"].MemAlloc != 40*GiB {
		t.Errorf("after pass: a=%d b=%d, want 40 GiB each",
			snap.Nodes["a"].MemAlloc, snap.Nodes["b"].MemAlloc)
	}

	// The HA wait burned the extended deadline on the virtual clock.
	if elapsed := clock.Now().Sub(start); elapsed < DefaultTimeout {
		t.Errorf("virtual clock advanced %s, want at least %s for the HA wait", elapsed, DefaultTimeout)
	}
}
