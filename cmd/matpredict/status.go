package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show progress of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := openHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		result, err := hist.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		st := engine.StatusFromResult(result)

		fmt.Printf("Run %s\n", st.RunID)
		fmt.Printf("  round:     %d\n", st.Round)
		fmt.Printf("  active:    %d\n", st.ActiveCount)
		fmt.Printf("  converged: %d\n", st.ConvergedCount)
		fmt.Printf("  failed:    %d\n", st.FailedCount)
		if st.StopReason != "" {
			fmt.Printf("  stopped:   %s\n", st.StopReason)
		} else {
			fmt.Printf("  stopped:   (in progress or crashed mid-round)\n")
		}
		return nil
	},
}
