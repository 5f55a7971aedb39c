package balancer

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

// Clock abstracts time for the task poll loop so tests can drive it with a
// virtual clock and complete migrations instantly.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

const (
	// DefaultPollInterval is the cadence of task status polls.
	DefaultPollInterval = 3 * time.Second
	// DefaultTimeout bounds an ordinary VM migration.
	DefaultTimeout = 120 * time.Second
	// DefaultHATimeout bounds an HA-managed VM migration; HA failover can
	// insert extra orchestration latency.
	DefaultHATimeout = 180 * time.Second
)

// Supervisor drives a migration through its asynchronous task lifecycle:
// start the task, poll until it stops, classify the outcome.
type Supervisor struct {
	client proxmox.ClusterClient
	clock  Clock

	PollInterval time.Duration
	Timeout      time.Duration
	HATimeout    time.Duration
}

// NewSupervisor creates a supervisor over the given client with the
// default cadence and timeouts.
func NewSupervisor(client proxmox.ClusterClient) *Supervisor {
	return &Supervisor{
		client:       client,
		clock:        realClock{},
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
		HATimeout:    DefaultHATimeout,
	}
}

// WithClock replaces the supervisor's clock; used by tests.
func (s *Supervisor) WithClock(clock Clock) *Supervisor {
	s.clock = clock
	return s
}

// Execute starts the migration and waits for the task to finish. Running
// VMs are migrated online. The returned error is nil on success or an
// *ExecError classifying the failure; on Timeout the migration may still
// succeed asynchronously, which is why the caller must not assume either
// outcome for the cluster itself.
func (s *Supervisor) Execute(mig Migration, vm *cluster.VM) error {
	task, err := s.client.StartMigration(mig.Source, mig.VMID, mig.Target, vm.Running())
	if err != nil {
		return &ExecError{Kind: StartFailed, Err: err}
	}
	if task == "" {
		return &ExecError{Kind: StartFailed, Err: fmt.Errorf("control plane returned no task id")}
	}

	timeout := s.Timeout
	if vm.HA {
		timeout = s.HATimeout
	}
	deadline := s.clock.Now().Add(timeout)

	logger := log.WithFields(log.Fields{
		"vmid": mig.VMID,
		"task": task,
		"ha":   vm.HA,
	})
	logger.Debug("migration task started")

	for {
		status, err := s.client.TaskStatus(mig.Source, task)
		if err != nil {
			// Transient poll failures count against the deadline but do not
			// decide the migration.
			logger.WithField("error", err).Warn("task status poll failed")
		} else if status.Stopped() {
			if status.Succeeded() {
				logger.Info("migration completed")
				return nil
			}
			return &ExecError{
				Kind: MigrationFailed,
				Err:  fmt.Errorf("task finished with exit status %q", status.ExitStatus),
			}
		}

		if !s.clock.Now().Add(s.PollInterval).Before(deadline) {
			// No forced abort: the task keeps running on the cluster and the
			// caller decides what to believe about it.
			return &ExecError{
				Kind: Timeout,
				Err:  fmt.Errorf("no terminal task state within %s", timeout),
			}
		}
		s.clock.Sleep(s.PollInterval)
	}
}
