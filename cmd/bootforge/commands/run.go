package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		dryRun      bool
		forcePhases []string
		forceUnits  []string
		targetDir   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bootstrap plan",
		Long: `Run every phase of the bootstrap plan in order.

Units already recorded as completed are skipped, so re-running after a
failure or interruption picks up where the previous run stopped. A
checkpoint speeds up the resume scan but is never required for
correctness.`,
		Example: `  # Run the full plan
  bootforge run

  # Preview without executing or writing state
  bootforge run --dry-run

  # Re-execute one unit even though it completed before
  bootforge run --force-unit docker/db-compose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			o, err := rt.orchestrator()
			if err != nil {
				return err
			}

			opts := rt.runOptions(dryRun, forcePhases, forceUnits, targetDir)
			summary, err := o.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("Dry run: %d unit(s) would execute, %d already completed\n",
					summary.WouldExecute, summary.Skipped)
				return nil
			}
			fmt.Printf("Run %s finished: %d executed, %d skipped\n",
				summary.RunID, summary.Executed, summary.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without executing")
	cmd.Flags().StringArrayVar(&forcePhases, "force-phase", nil, "re-execute every unit in the named phase")
	cmd.Flags().StringArrayVar(&forceUnits, "force-unit", nil, "re-execute the named unit")
	cmd.Flags().StringVar(&targetDir, "target-dir", "", "override the configured target directory")

	return cmd
}
