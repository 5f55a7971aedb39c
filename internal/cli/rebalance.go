package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/carlosvargasvip/proxmox-scripts/internal/balancer"
	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
	"github.com/carlosvargasvip/proxmox-scripts/internal/history"
)

func newRebalanceCommand() *cobra.Command {
	var (
		maxMigrations int
		assumeYes     bool
		dryRun        bool
		recordHistory bool
	)

	cmd := &cobra.Command{
		Use:   "rebalance [memory|cpu|count]",
		Short: "Drive the cluster toward equitable utilization of one resource",
		Long: `rebalance snapshots the cluster, decides whether any node is overloaded
in the selected mode, and live-migrates VMs one at a time until the cluster
is inside the balance band or the migration budget is spent. Default mode
is memory.`,
		Args: cobra.MaximumNArgs(1),
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
			if !model.NeedsRebalance(mode) {
				fmt.Println(renderBalanced(snap, model, mode))
				return nil
			}

			// Preview against a clone; the real pass re-plans live so each
			// migration sees the actual post-move load.
			preview := balancer.Plan(snap, mode, maxMigrations)
			fmt.Println(renderPlan(snap, model, mode, preview))

			if dryRun {
				return nil
			}

			if !assumeYes {
				ok, err := confirm(fmt.Sprintf("Execute up to %d migrations?", len(preview)))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Aborted.")
					os.Exit(2)
				}
			}

			planner := balancer.NewPlanner()
			planner.MaxMigrations = maxMigrations
			supervisor := balancer.NewSupervisor(client)

			started := time.Now()
			summary, runErr := planner.Run(ctx, snap, mode, supervisor)

			if summary != nil {
				fmt.Println(renderSummary(summary))
				if recordHistory {
					recordPass(started, time.Since(started), snap, summary)
				}
			}

			switch {
			case runErr == nil:
				return nil
			case errors.Is(runErr, balancer.ErrCancelled):
				// Partial results already shown; the in-flight migration was
				// not rolled back.
				log.Warn("pass cancelled")
				return nil
			default:
				return runErr
			}
		},
	}

	cmd.Flags().IntVar(&maxMigrations, "max-migrations", balancer.DefaultMaxMigrations,
		"migration budget for one pass")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without migrating anything")
	cmd.Flags().BoolVar(&recordHistory, "history", false, "record the pass in the local history database")

	return cmd
}

func recordPass(started time.Time, duration time.Duration, snap *cluster.Snapshot, summary *balancer.Summary) {
	store, err := history.Open(history.DefaultPath())
	if err != nil {
		log.WithField("error", err).Warn("history database unavailable, pass not recorded")
		return
	}
	defer store.Close()

	if err := store.RecordPass(started, duration, len(snap.Nodes), snap.TotalVMs, summary); err != nil {
		log.WithField("error", err).Warn("failed to record pass history")
	}
}
