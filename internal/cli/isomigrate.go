package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newISOMigrateCommand() *cobra.Command {
	var (
		node        string
		fromStorage string
		toStorage   string
		assumeYes   bool
	)

	cmd := &cobra.Command{
		Use:   "iso-migrate --node NAME --from STORAGE --to STORAGE",
		Short: "Move ISO images from one storage to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClusterClient()
			if err != nil {
				return err
			}

			content, err := client.ListStorageContent(node, fromStorage)
			if err != nil {
				return fmt.Errorf("failed to list content of %s: %w", fromStorage, err)
			}

			var isos []string
			for _, item := range content {
				if item.Content == "iso" {
					isos = append(isos, item.VolID)
				}
			}
			if len(isos) == 0 {
				fmt.Printf("No ISO images on %s.\n", fromStorage)
				return nil
			}

			fmt.Printf("Moving %d ISO images from %s to %s:\n", len(isos), fromStorage, toStorage)
			for _, volid := range isos {
				fmt.Printf("  %s\n", volid)
			}

			if !assumeYes {
				ok, err := confirm(fmt.Sprintf("Move %d ISO images?", len(isos)))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Aborted.")
					os.Exit(2)
				}
			}

			moved := 0
			for _, volid := range isos {
				if err := client.MoveVolume(node, volid, toStorage); err != nil {
					log.WithFields(log.Fields{"volid": volid, "error": err}).Warn("move failed")
					continue
				}
				moved++
			}

			fmt.Printf("Moved %d/%d ISO images.\n", moved, len(isos))
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node holding the storages (required)")
	cmd.Flags().StringVar(&fromStorage, "from", "", "source storage (required)")
	cmd.Flags().StringVar(&toStorage, "to", "", "destination storage (required)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
