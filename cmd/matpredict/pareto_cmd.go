package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/pareto"
)

var (
	paretoMaximize []string
	paretoMinimize []string
)

var paretoCmd = &cobra.Command{
	Use:   "pareto <run-id>",
	Short: "Rank a run's final predictions by non-dominated sorting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objectives := make([]pareto.Objective, 0, len(paretoMaximize)+len(paretoMinimize))
		for _, p := range paretoMaximize {
			objectives = append(objectives, pareto.Objective{Property: p, Direction: pareto.Maximize})
		}
		for _, p := range paretoMinimize {
			objectives = append(objectives, pareto.Objective{Property: p, Direction: pareto.Minimize})
		}
		if len(objectives) == 0 {
			return fmt.Errorf("at least one --maximize or --minimize property is required")
		}

		hist, err := openHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		result, err := hist.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var points []pareto.Point
		for id, state := range result.Samples {
			values := state.FinalValues()
			if len(values) == 0 {
				continue
			}
			complete := true
			for _, obj := range objectives {
				if _, ok := values[obj.Property]; !ok {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
			points = append(points, pareto.Point{ID: id, Values: values})
		}
		if len(points) == 0 {
			return fmt.Errorf("run %s has no samples with values for all objectives", args[0])
		}

		fronts, err := pareto.Fronts(points, objectives)
		if err != nil {
			return err
		}

		for rank, front := range fronts {
			if rank == 0 {
				fmt.Printf("Front 0 (Pareto-optimal, %d samples):\n", len(front))
			} else {
				fmt.Printf("Front %d (%d samples):\n", rank, len(front))
			}
			for _, r := range front {
				var parts []string
				for _, obj := range objectives {
					parts = append(parts, fmt.Sprintf("%s=%g", obj.Property, r.Values[obj.Property]))
				}
				fmt.Printf("  %-16s %s\n", r.ID, strings.Join(parts, " "))
			}
		}
		return nil
	},
}

func init() {
	paretoCmd.Flags().StringSliceVar(&paretoMaximize, "maximize", nil, "properties where larger is better")
	paretoCmd.Flags().StringSliceVar(&paretoMinimize, "minimize", nil, "properties where smaller is better")
}
