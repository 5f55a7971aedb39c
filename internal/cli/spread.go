package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/carlosvargasvip/proxmox-scripts/internal/balancer"
)

func newSpreadCommand() *cobra.Command {
	var (
		sourceNode string
		assumeYes  bool
	)

	cmd := &cobra.Command{
		Use:   "spread --node NAME",
		Short: "Distribute a node's VMs round-robin across the other nodes",
		Long: `spread evacuates VMs from one node by assigning them to the remaining
cluster members in turn, ignoring utilization entirely. Useful before
maintenance when the rest of the cluster has headroom anyway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClusterClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			snap, err := collectSnapshot(ctx, client)
			if err != nil {
				return err
			}

			if _, ok := snap.Nodes[sourceNode]; !ok {
				return fmt.Errorf("node %q is not part of the cluster", sourceNode)
			}

			var targets []string
			for _, name := range snap.EligibleNodes() {
				if name != sourceNode {
					targets = append(targets, name)
				}
			}
			sort.Strings(targets)
			if len(targets) == 0 {
				return fmt.Errorf("no usable target nodes besides %s", sourceNode)
			}

			vms := snap.VMsOn(sourceNode)
			if len(vms) == 0 {
				fmt.Printf("Node %s has no VMs.\n", sourceNode)
				return nil
			}

			fmt.Printf("Spreading %d VMs from %s across %d nodes:\n", len(vms), sourceNode, len(targets))
			for i, vm := range vms {
				fmt.Printf("  vm %-6d -> %s\n", vm.ID, targets[i%len(targets)])
			}

			if !assumeYes {
				ok, err := confirm(fmt.Sprintf("Migrate %d VMs off %s?", len(vms), sourceNode))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Aborted.")
					os.Exit(2)
				}
			}

			supervisor := balancer.NewSupervisor(client)
			succeeded := 0
			for i, vm := range vms {
				if ctx.Err() != nil {
					log.Warn("spread cancelled")
					break
				}
				mig := balancer.Migration{VMID: vm.ID, Source: sourceNode, Target: targets[i%len(targets)]}
				if err := supervisor.Execute(mig, vm); err != nil {
					log.WithFields(log.Fields{"vmid": vm.ID, "error": err}).Warn("migration failed")
					continue
				}
				succeeded++
			}

			fmt.Printf("Spread complete: %d/%d VMs migrated.\n", succeeded, len(vms))
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceNode, "node", "", "node to evacuate (required)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("node")

	return cmd
}
