// matpredict predicts material properties from composition/processing
// descriptions using retrieval-augmented LLM calls, iterating per
// sample until predictions stabilize.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/config"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

var (
	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:           "matpredict",
	Short:         "Iterative LLM-based material property prediction",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return logging.Initialize(logging.Options{
			Debug: cfg.Logging.Debug,
			Dir:   cfg.LogsDir(),
			Level: cfg.Logging.Level,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "matpredict.yaml", "path to config file")
	rootCmd.AddCommand(runCmd, statusCmd, retryCmd, paretoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
