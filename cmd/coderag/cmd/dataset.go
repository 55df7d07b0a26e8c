package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/output"
)

// newDatasetCmd creates the dataset command group.
func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect and validate evaluation datasets",
	}
	cmd.AddCommand(newDatasetValidateCmd())
	return cmd
}

func newDatasetValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a dataset directory for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := eval.ValidateDataset(args[0])
			output.New(cmd.OutOrStdout()).ValidationReport(report)
			if report.Blocking() {
				return fmt.Errorf("dataset %s has blocking errors", args[0])
			}
			return nil
		},
	}
}
