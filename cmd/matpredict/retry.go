package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/engine"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/llm"
)

var (
	retrySamplesPath string
	retryIDs         []string
	retryBudget      int
)

var retryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Retry failed samples of a prior run, continuing its round sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priorRunID := args[0]

		samples, err := loadSamples(retrySamplesPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hist, err := openHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		prior, err := hist.LoadRun(ctx, priorRunID)
		if err != nil {
			return err
		}

		corpus, err := openCorpus(ctx, samples)
		if err != nil {
			return err
		}
		defer corpus.Close()

		client, err := llm.NewClient(cfg.LLM)
		if err != nil {
			return err
		}

		// The retry continues the prior round sequence, so the budget
		// must exceed the prior run's final round for anything to
		// happen.
		engineCfg := cfg.Engine
		if retryBudget > 0 {
			engineCfg.RoundBudget = retryBudget
		}

		orch := engine.New(engine.Options{
			Engine:          engineCfg,
			TopK:            cfg.Retrieval.TopK,
			SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		}, corpus, client, hist)

		result, err := orch.Retry(ctx, priorRunID, retryIDs, samples, prior.Properties)
		if err != nil {
			return err
		}
		fmt.Printf("Retry of %s started as %s\n", priorRunID, result.RunID)
		printResult(result)
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVarP(&retrySamplesPath, "samples", "s", "", "JSON file with the original input samples (required)")
	retryCmd.Flags().StringSliceVar(&retryIDs, "ids", nil, "sample ids to retry (default: the prior run's failed set)")
	retryCmd.Flags().IntVar(&retryBudget, "round-budget", 0, "override round budget for the retry run")
	retryCmd.MarkFlagRequired("samples")
}
