package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPhaseCommand() *cobra.Command {
	var (
		dryRun     bool
		force      bool
		forceUnits []string
		targetDir  string
	)

	cmd := &cobra.Command{
		Use:   "phase <phase-id>",
		Short: "Run a single phase",
		Long: `Run one phase of the bootstrap plan by ID.

Completion records are still consulted and written per unit, but the
checkpoint is left alone: a partial run says nothing about the phases
around it.`,
		Example: `  # Run only the docker phase
  bootforge phase docker

  # Re-run a completed phase from scratch
  bootforge phase docker --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phaseID := args[0]

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			o, err := rt.orchestrator()
			if err != nil {
				return err
			}

			opts := rt.runOptions(dryRun, nil, forceUnits, targetDir)
			opts.OnlyPhase = phaseID
			if force {
				opts.ForcePhases = []string{phaseID}
			}

			summary, err := o.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("Dry run of phase %s: %d unit(s) would execute, %d already completed\n",
					phaseID, summary.WouldExecute, summary.Skipped)
				return nil
			}
			fmt.Printf("Phase %s finished: %d executed, %d skipped\n",
				phaseID, summary.Executed, summary.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without executing")
	cmd.Flags().BoolVar(&force, "force", false, "re-execute every unit in the phase")
	cmd.Flags().StringArrayVar(&forceUnits, "force-unit", nil, "re-execute the named unit")
	cmd.Flags().StringVar(&targetDir, "target-dir", "", "override the configured target directory")

	return cmd
}
