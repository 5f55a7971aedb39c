package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/carlosvargasvip/proxmox-scripts/internal/history"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rebalancing passes recorded with --history",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(history.DefaultPath())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.RecentPasses(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No recorded passes.")
				return nil
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Started", "Mode", "Nodes", "VMs", "Migrated", "Failed", "Duration"})
			for _, rec := range records {
				t.AppendRow(table.Row{
					rec.StartedAt.Format("2006-01-02 15:04:05"),
					rec.Mode, rec.Nodes, rec.VMs, rec.Succeeded, rec.Failed,
					rec.Duration.Round(time.Second),
				})
			}
			fmt.Println(t.Render())
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of passes to show")
	return cmd
}
