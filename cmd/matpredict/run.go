package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/llm"
)

var (
	runSamplesPath string
	runProperties  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an iterative prediction run",
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, err := loadSamples(runSamplesPath)
		if err != nil {
			return err
		}

		// Interrupt stops the run at the next round boundary.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hist, err := openHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		corpus, err := openCorpus(ctx, samples)
		if err != nil {
			return err
		}
		defer corpus.Close()

		client, err := llm.NewClient(cfg.LLM)
		if err != nil {
			return err
		}

		orch := engine.New(engine.Options{
			Engine:          cfg.Engine,
			TopK:            cfg.Retrieval.TopK,
			SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		}, corpus, client, hist)

		fmt.Printf("Starting run: %d samples, properties [%s], budget %d rounds, model %s\n",
			len(samples), strings.Join(runProperties, ", "), cfg.Engine.RoundBudget, client.Model())

		result, err := orch.Run(ctx, samples, runProperties)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSamplesPath, "samples", "s", "", "JSON file of input samples (required)")
	runCmd.Flags().StringSliceVarP(&runProperties, "properties", "p", nil, "target property names (required)")
	runCmd.MarkFlagRequired("samples")
	runCmd.MarkFlagRequired("properties")
}

func printResult(result *engine.RunResult) {
	fmt.Printf("\nRun %s finished: %s after %d rounds\n", result.RunID, result.StopReason, result.TotalRounds)
	fmt.Printf("  converged %d/%d, samples with failures %d\n",
		result.ConvergedCount, result.SampleCount, result.FailedCount)

	ids := make([]string, 0, len(result.Samples))
	for id := range result.Samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		state := result.Samples[id]
		var parts []string
		for _, p := range result.Properties {
			if rec, ok := state.Records[p]; ok {
				if v, ok := rec.Latest(); ok {
					parts = append(parts, fmt.Sprintf("%s=%g", p, v))
				}
			}
		}
		marker := " "
		if state.Converged {
			marker = fmt.Sprintf("converged@%d", state.ConvergedAtRound)
		}
		fmt.Printf("  %-16s %-14s %s\n", id, marker, strings.Join(parts, " "))
	}

	for _, m := range result.Metrics {
		fmt.Printf("  %s: MAE=%.4g MAPE=%.2f%% R2=%.4f (n=%d)\n", m.Property, m.MAE, m.MAPE, m.R2, m.Count)
	}
	if len(result.Failures) > 0 {
		fmt.Printf("  %d failures recorded; run 'matpredict retry %s' to retry the failed subset\n",
			len(result.Failures), result.RunID)
	}
}
