package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/store"
)

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	var reindexPath string
	var deleteField string
	var deleteValue string

	cmd := &cobra.Command{
		Use:   "index [chunks.json]",
		Short: "Ingest pre-chunked documents into both indexes",
		Long: `Read a JSON file containing an array of chunks and write them to the
vector and BM25 indexes. With --reindex-file, all existing documents
for that file path are dropped first. With --delete-field/--delete-value
and no input file, matching documents are removed instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			if len(args) == 0 {
				if deleteField == "" {
					return fmt.Errorf("provide a chunks file or --delete-field/--delete-value")
				}
				n, err := a.coord.DeleteByFilter(ctx, store.Eq(deleteField, deleteValue))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents\n", n)
				return nil
			}

			chunks, err := readChunks(args[0])
			if err != nil {
				return err
			}

			var stats any
			if reindexPath != "" {
				stats, err = a.coord.ReindexFile(ctx, reindexPath, chunks)
			} else {
				stats, err = a.coord.Upsert(ctx, chunks)
			}
			if err != nil {
				return err
			}

			out, _ := json.Marshal(stats)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&reindexPath, "reindex-file", "", "Drop existing documents for this file path before ingesting")
	cmd.Flags().StringVar(&deleteField, "delete-field", "", "Metadata field for deletion (with --delete-value)")
	cmd.Flags().StringVar(&deleteValue, "delete-value", "", "Metadata value for deletion")
	return cmd
}

func readChunks(path string) ([]*store.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}
	var chunks []*store.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse chunks file: %w", err)
	}
	return chunks, nil
}
