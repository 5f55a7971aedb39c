package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

// Maximum concurrent node inventory fetches
const maxConcurrentFetches = 8

// Collector snapshots node capacity, per-node allocation, VM inventory and
// the HA set into an in-memory cluster model.
type Collector struct {
	client proxmox.ClusterClient
}

// NewCollector creates a collector over the given cluster client.
func NewCollector(client proxmox.ClusterClient) *Collector {
	return &Collector{client: client}
}

// nodeInventory is the raw per-node fetch result before merging.
type nodeInventory struct {
	name   string
	status *proxmox.NodeStatus
	vms    []proxmox.VMInfo
	err    error
}

// Collect gathers the complete cluster snapshot. NodeStatus and ListVMs are
// issued in parallel per node; responses are merged only after all have
// returned. A single node's failure is non-fatal: the node is included
// degraded with zero allocations.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	names, err := c.client.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}
	sort.Strings(names)

	inventories := make([]nodeInventory, len(names))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			inv := nodeInventory{name: name}
			inv.status, inv.err = c.client.NodeStatus(name)
			if inv.err == nil {
				inv.vms, inv.err = c.client.ListVMs(name)
			}
			inventories[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Nodes: make(map[string]*Node, len(names)),
		VMs:   make(map[int]*VM),
	}

	for _, inv := range inventories {
		node := &Node{Name: inv.name, Online: true}

		if inv.err != nil {
			log.WithFields(log.Fields{"node": inv.name, "error": inv.err}).
				Warn("node inventory failed, including node with zero allocations")
			node.Degraded = true
			node.MemTotal = 1
			node.CPUTotal = 1
			snap.Nodes[inv.name] = node
			continue
		}

		node.MemTotal = inv.status.Memory.Total
		node.CPUTotal = inv.status.CPUInfo.CPUs

		// Coerce zero capacity to 1 to keep division safe downstream; such
		// nodes stay out of planning.
		if node.MemTotal <= 0 {
			log.WithField("node", inv.name).Warn("node reports zero total memory")
			node.MemTotal = 1
			node.Degraded = true
		}
		if node.CPUTotal <= 0 {
			log.WithField("node", inv.name).Warn("node reports zero cpu count")
			node.CPUTotal = 1
			node.Degraded = true
		}

		snap.Nodes[inv.name] = node

		for _, info := range inv.vms {
			if prev, seen := snap.VMs[info.VMID]; seen {
				// In-flight migration race: two nodes report the same VM.
				// The later-reporting node wins.
				log.WithFields(log.Fields{
					"vmid":  info.VMID,
					"first": prev.Node,
					"then":  inv.name,
				}).Warn("vm reported by two nodes, keeping later report")
				c.unassign(snap, prev)
			}
			vm := &VM{
				ID:     info.VMID,
				Name:   info.Name,
				Node:   inv.name,
				MaxMem: info.MaxMem,
				CPUs:   info.VCPUs(),
				Status: info.Status,
			}
			snap.VMs[vm.ID] = vm
			node.MemAlloc += vm.MaxMem
			node.CPUAlloc += vm.CPUs
			node.VMCount++
		}
	}

	c.markHAManaged(snap)

	for _, node := range snap.Nodes {
		snap.MemTotal += node.MemTotal
		snap.CPUTotal += node.CPUTotal
		snap.MemAlloc += node.MemAlloc
		snap.CPUAlloc += node.CPUAlloc
		snap.TotalVMs += node.VMCount
	}

	log.WithFields(log.Fields{
		"nodes": len(snap.Nodes),
		"vms":   snap.TotalVMs,
	}).Debug("cluster snapshot collected")

	return snap, nil
}

// unassign removes a duplicate VM's contribution from the node that
// reported it first.
func (c *Collector) unassign(snap *Snapshot, vm *VM) {
	if node, ok := snap.Nodes[vm.Node]; ok {
		node.MemAlloc -= vm.MaxMem
		node.CPUAlloc -= vm.CPUs
		node.VMCount--
	}
	delete(snap.VMs, vm.ID)
}

// markHAManaged queries the HA resource list once and flags matching VMs.
// Entries have the form "vm:<id>".
func (c *Collector) markHAManaged(snap *Snapshot) {
	resources, err := c.client.ListHAResources()
	if err != nil {
		log.WithField("error", err).Warn("failed to list HA resources, treating all VMs as ordinary")
		return
	}

	for _, res := range resources {
		idText, ok := strings.CutPrefix(res.SID, "vm:")
		if !ok {
			continue
		}
		vmid, err := strconv.Atoi(idText)
		if err != nil {
			continue
		}
		if vm, ok := snap.VMs[vmid]; ok {
			vm.HA = true
		}
	}
}
