package balancer

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
)

// DefaultMaxMigrations bounds one pass when the caller does not say otherwise.
const DefaultMaxMigrations = 20

// maxConsecutiveFailures aborts the pass when the control plane is failing
// migration after migration; something systemic is wrong.
const maxConsecutiveFailures = 5

// Migration is one planned move of a VM between nodes.
type Migration struct {
	VMID   int
	Source string
	Target string
}

func (m Migration) String() string {
	return fmt.Sprintf("vm %d: %s -> %s", m.VMID, m.Source, m.Target)
}

// Executor carries a chosen migration through the control plane. The
// Supervisor is the production implementation; tests and dry runs plug in
// their own.
type Executor interface {
	Execute(mig Migration, vm *cluster.VM) error
}

// acceptAll simulates execution for pure planning: every move succeeds.
type acceptAll struct{}

func (acceptAll) Execute(Migration, *cluster.VM) error { return nil }

// Planner runs the greedy rebalancing loop. Exactly one migration is in
// flight at a time; the snapshot is mutated only after the executor
// reports success, so each iteration scores against up-to-date load.
type Planner struct {
	MaxMigrations int
}

// NewPlanner returns a planner with the default migration budget.
func NewPlanner() *Planner {
	return &Planner{MaxMigrations: DefaultMaxMigrations}
}

// Plan computes the move sequence for a snapshot without touching the
// cluster: the loop runs against a clone with an executor that always
// succeeds. Deterministic for a given snapshot and mode.
func Plan(snap *cluster.Snapshot, mode Mode, maxMigrations int) []Migration {
	p := &Planner{MaxMigrations: maxMigrations}
	summary, err := p.Run(context.Background(), snap.Clone(), mode, acceptAll{})
	if err != nil {
		return nil
	}
	return summary.Migrated
}

// Run executes one rebalancing pass over the snapshot, delegating each
// chosen move to exec. The snapshot is mutated in place on every success.
// Only ErrPrecondition and ErrCancelled are returned as errors; individual
// migration failures land in the summary's event log.
func (p *Planner) Run(ctx context.Context, snap *cluster.Snapshot, mode Mode, exec Executor) (*Summary, error) {
	summary := &Summary{Mode: mode}

	eligible := snap.EligibleNodes()
	if len(eligible) < 2 {
		return summary, fmt.Errorf("%w: need at least 2 usable nodes, have %d", ErrPrecondition, len(eligible))
	}

	model := NewModel(snap)
	if !model.NeedsRebalance(mode) {
		return summary, nil
	}

	// Targets are conservation-preserving across migrations, so they are
	// computed once per pass; only per-node utilizations change.
	target := model.Target(mode)
	threshold := model.Threshold(mode)

	budget := p.MaxMigrations
	if budget <= 0 {
		budget = DefaultMaxMigrations
	}

	stuck := make(map[string]bool)   // sources with no eligible VM this pass
	dropped := make(map[int]bool)    // VMs whose migration failed this pass
	consecutiveFailures := 0

	for iter := 0; iter < budget; iter++ {
		if ctx.Err() != nil {
			summary.Cancelled = true
			return summary, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		source := p.selectSource(model, snap, mode, target, stuck)
		if source == nil {
			break
		}
		dest := p.selectDestination(model, snap, mode, source.Name)
		if dest == nil {
			break
		}

		sourceUtil := model.Utilization(source, mode)
		destUtil := model.Utilization(dest, mode)

		vm := p.selectVM(model, snap, mode, source, dest, target, threshold, dropped)
		if vm == nil {
			// Nothing movable without creating a new overload; leave this
			// source alone for the rest of the pass.
			stuck[source.Name] = true
			continue
		}

		mig := Migration{VMID: vm.ID, Source: source.Name, Target: dest.Name}
		log.WithFields(log.Fields{
			"vmid":        mig.VMID,
			"source":      mig.Source,
			"target":      mig.Target,
			"source_util": sourceUtil,
			"target_util": destUtil,
			"mode":        mode,
		}).Info("migrating vm")

		if err := exec.Execute(mig, vm); err != nil {
			log.WithFields(log.Fields{
				"vmid":   mig.VMID,
				"source": mig.Source,
				"target": mig.Target,
				"error":  err,
			}).Warn("migration attempt failed")

			// The VM is out of this pass; the snapshot stays as it was (a
			// timed-out migration may still succeed asynchronously, so it
			// must not be assumed either way).
			dropped[vm.ID] = true
			summary.Events = append(summary.Events, Event{Migration: mig, Err: err})
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures {
				log.Warn("too many consecutive migration failures, ending pass")
				break
			}
			continue
		}

		if err := snap.Apply(mig.VMID, mig.Source, mig.Target); err != nil {
			return summary, fmt.Errorf("%w: snapshot update: %v", ErrPrecondition, err)
		}
		summary.Migrated = append(summary.Migrated, mig)
		summary.Events = append(summary.Events, Event{Migration: mig})
		consecutiveFailures = 0
	}

	return summary, nil
}

// sourceEligible decides whether a node may donate VMs. Memory and cpu use
// the threshold band; count keeps draining while above target so counts
// land exactly on floor(total/nodes) once a pass has started.
func sourceEligible(model *Model, node *cluster.Node, mode Mode, target int) bool {
	if mode == ModeCount {
		return model.Utilization(node, mode) > target
	}
	return model.Classify(node, mode) == Overloaded
}

// selectSource picks the most loaded eligible donor; ties break toward the
// lexicographically smallest name (EligibleNodes is sorted).
func (p *Planner) selectSource(model *Model, snap *cluster.Snapshot, mode Mode, target int, stuck map[string]bool) *cluster.Node {
	var best *cluster.Node
	bestUtil := 0
	for _, name := range snap.EligibleNodes() {
		if stuck[name] {
			continue
		}
		node := snap.Nodes[name]
		if !sourceEligible(model, node, mode, target) {
			continue
		}
		if util := model.Utilization(node, mode); best == nil || util > bestUtil {
			best = node
			bestUtil = util
		}
	}
	return best
}

// selectDestination picks the least loaded node other than the source;
// ties break toward the lexicographically smallest name.
func (p *Planner) selectDestination(model *Model, snap *cluster.Snapshot, mode Mode, source string) *cluster.Node {
	var best *cluster.Node
	bestUtil := 0
	for _, name := range snap.EligibleNodes() {
		if name == source {
			continue
		}
		node := snap.Nodes[name]
		if util := model.Utilization(node, mode); best == nil || util < bestUtil {
			best = node
			bestUtil = util
		}
	}
	return best
}

// selectVM scores every movable VM on the source by the post-move deviation
// sum and returns the best one, or nil when nothing passes the guards. Ties
// break toward the smallest vmid (VMsOn is id-ordered and the comparison is
// strict).
func (p *Planner) selectVM(model *Model, snap *cluster.Snapshot, mode Mode, source, dest *cluster.Node, target, threshold int, dropped map[int]bool) *cluster.VM {
	currentScore := deviation(model.Utilization(source, mode), target) +
		deviation(model.Utilization(dest, mode), target)

	var best *cluster.VM
	bestScore := 0
	for _, vm := range snap.VMsOn(source.Name) {
		if dropped[vm.ID] {
			continue
		}

		newSourceUtil := model.utilizationAfter(source, mode, vm, false)
		newDestUtil := model.utilizationAfter(dest, mode, vm, true)

		// Never create a new overload on the destination. Applies uniformly;
		// HA VMs get no exemption.
		if newDestUtil > target+2*threshold {
			continue
		}

		score := deviation(newSourceUtil, target) + deviation(newDestUtil, target)
		if score >= currentScore {
			continue
		}
		if best == nil || score < bestScore {
			best = vm
			bestScore = score
		}
	}
	return best
}
