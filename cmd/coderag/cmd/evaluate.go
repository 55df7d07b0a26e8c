package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/adapter"
	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/output"
)

// newEvaluateCmd creates the evaluate command.
func newEvaluateCmd() *cobra.Command {
	var (
		datasetDir    string
		kValues       []int
		metrics       []string
		parallelism   int
		classpath     bool
		ignoreMethods bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score an adapter against an annotated dataset",
		Long: `Load a question dataset, retrieve predictions through the configured
adapter, and report Precision, Recall, F1, Hit, MRR, nDCG, and MAP at
each requested cut-off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ds, err := eval.LoadDataset(datasetDir)
			if err != nil {
				return err
			}

			ad, err := adapter.New(adapterConfig(cfg), a.adapterDeps())
			if err != nil {
				return err
			}
			defer ad.Close()

			opts := eval.Options{
				KValues:     kValues,
				Metrics:     metrics,
				Parallelism: parallelism,
				Normalize:   eval.NormalizeOptionsFromDataset(ds),
			}
			if cmd.Flags().Changed("classpath") {
				opts.Normalize.ConvertFilepathToClasspath = classpath
			}
			if cmd.Flags().Changed("ignore-methods") {
				opts.Normalize.IgnoreMethodNames = ignoreMethods
			}

			runnerOpts := []eval.RunnerOption{eval.WithRunnerLogger(a.logger)}
			if cfg.Eval.RunLogPath != "" {
				runLog, err := eval.OpenRunLog(cfg.Eval.RunLogPath)
				if err != nil {
					a.logger.Warn("run_log_open_failed", "path", cfg.Eval.RunLogPath, "error", err)
				} else {
					defer runLog.Close()
					runnerOpts = append(runnerOpts, eval.WithRunLog(runLog))
				}
			}

			report, err := eval.NewRunner(ad, runnerOpts...).Run(cmd.Context(), ds, opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			output.New(cmd.OutOrStdout()).EvaluationReport(report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetDir, "dataset", "d", "", "Dataset directory (required)")
	cmd.Flags().IntSliceVar(&kValues, "k", nil, "Cut-offs to score at (default 1,3,5,10)")
	cmd.Flags().StringSliceVar(&metrics, "metrics", nil, "Metrics to compute (default all)")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Concurrent adapter calls (default sequential)")
	cmd.Flags().BoolVar(&classpath, "classpath", false, "Convert file paths to Java classpaths before matching")
	cmd.Flags().BoolVar(&ignoreMethods, "ignore-methods", false, "Drop trailing method names from ground truth")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the report as JSON")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}
