package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all recorded progress",
		Long: `Discard every state record and the checkpoint. The next run
re-executes the whole plan from the first phase.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset discards all recorded progress, pass --yes to confirm")
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.Reset(cmd.Context()); err != nil {
				return err
			}
			if err := rt.ckpt.Clear(); err != nil {
				return err
			}
			fmt.Println("All recorded progress discarded")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
