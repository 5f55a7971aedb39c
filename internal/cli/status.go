package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carlosvargasvip/proxmox-scripts/internal/balancer"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [memory|cpu|count]",
		Short: "Show per-node allocation and balance classification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modeArg := ""
			if len(args) == 1 {
				modeArg = args[0]
			}
			mode, err := balancer.ParseMode(modeArg)
			if err != nil {
				return err
			}

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

			model := balancer.NewModel(snap)
			fmt.Println(renderStatus(snap, model, mode))
			if model.NeedsRebalance(mode) {
				fmt.Println(overStyle.Render("Rebalancing recommended."))
			}
			return nil
		},
	}
}
