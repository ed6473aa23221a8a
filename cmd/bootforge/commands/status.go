package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootforge/bootforge/pkg/state"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded bootstrap progress",
		Long: `Show the recorded status of every phase and unit in the plan,
the overall completion counters, and the active checkpoint if one
exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			phases, err := rt.cfg.Plan()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			for _, phase := range phases {
				phaseStatus, err := keyStatus(ctx, rt.store, state.KindPhase, phase.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s [%s]\n", phase.ID, phaseStatus)
				for _, unit := range phase.Units {
					unitStatus, err := keyStatus(ctx, rt.store, state.KindScript, unit.ID())
					if err != nil {
						return err
					}
					fmt.Printf("  %-40s %s\n", unit.ID(), unitStatus)
				}
			}

			progress, err := rt.store.Progress(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d of %d recorded unit(s) completed\n", progress.Done, progress.Total)

			if phaseID, unitID, ok, err := rt.ckpt.Load(); err == nil && ok {
				if unitID != "" {
					fmt.Printf("Checkpoint: phase %s, unit %s\n", phaseID, unitID)
				} else {
					fmt.Printf("Checkpoint: phase %s\n", phaseID)
				}
			}
			return nil
		},
	}
	return cmd
}

// keyStatus derives the display status for a key: the status of its latest
// record, pending when no record exists.
func keyStatus(ctx context.Context, store state.Store, kind state.RecordKind, key string) (state.Status, error) {
	records, err := store.Records(ctx, kind, key)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return state.StatusPending, nil
	}
	latest := records[0]
	for _, r := range records[1:] {
		if !r.Timestamp.Before(latest.Timestamp) {
			latest = r
		}
	}
	return latest.Status, nil
}
