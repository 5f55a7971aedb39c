package cli

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// diskMoveTimeout bounds one disk move; bulk storage moves are slow, so
// this is far looser than the VM migration timeouts.
const diskMoveTimeout = 30 * time.Minute

func newDiskMigrateCommand() *cobra.Command {
	var (
		node      string
		vmid      int
		disks     []string
		toStorage string
		assumeYes bool
	)

	cmd := &cobra.Command{
		Use:   "disk-migrate --node NAME --vmid ID --to STORAGE",
		Short: "Move a VM's disks to a different storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClusterClient()
			if err != nil {
				return err
			}

			// Confirm the VM exists before touching anything.
			status, err := client.VMStatus(node, vmid)
			if err != nil {
				return fmt.Errorf("vm %d not found on %s: %w", vmid, node, err)
			}

			fmt.Printf("Moving disks %v of vm %d (%s) to %s.\n", disks, vmid, status.Name, toStorage)
			if !assumeYes {
				ok, err := confirm(fmt.Sprintf("Move %d disks of vm %d?", len(disks), vmid))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Aborted.")
					os.Exit(2)
				}
			}

			moved := 0
			for _, disk := range disks {
				task, err := client.MoveDisk(node, vmid, disk, toStorage)
				if err != nil {
					log.WithFields(log.Fields{"disk": disk, "error": err}).Warn("disk move failed to start")
					continue
				}
				if err := waitForTask(client, node, task, diskMoveTimeout); err != nil {
					log.WithFields(log.Fields{"disk": disk, "error": err}).Warn("disk move failed")
					continue
				}
				fmt.Printf("  %s moved\n", disk)
				moved++
			}

			fmt.Printf("Moved %d/%d disks.\n", moved, len(disks))
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node the VM runs on (required)")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "VM id (required)")
	cmd.Flags().StringSliceVar(&disks, "disk", []string{"scsi0"}, "disk keys to move")
	cmd.Flags().StringVar(&toStorage, "to", "", "destination storage (required)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("vmid")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
