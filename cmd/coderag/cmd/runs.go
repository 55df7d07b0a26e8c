package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/output"
)

// newRunsCmd creates the runs command.
func newRunsCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded evaluation runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runLog, err := eval.OpenRunLog(cfg.Eval.RunLogPath)
			if err != nil {
				return err
			}
			defer runLog.Close()

			records, err := runLog.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			output.New(cmd.OutOrStdout()).RunHistory(records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit records as JSON")
	return cmd
}
