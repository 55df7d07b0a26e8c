package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/output"
	"github.com/coderag/coderag/internal/search"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		k            int
		strategy     string
		vectorWeight float64
		bm25Weight   float64
		rrfConstant  int
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid retrieval query",
		Args:  cobra.MinimumNArgs(1),
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

			query := strings.Join(args, " ")
			req := search.Request{
				Query:        query,
				K:            k,
				Strategy:     strategy,
				VectorWeight: vectorWeight,
				BM25Weight:   bm25Weight,
				RRFConstant:  rrfConstant,
			}
			if req.K <= 0 {
				req.K = cfg.Retrieval.TopK
			}
			if req.Strategy == "" {
				req.Strategy = cfg.Retrieval.Strategy
			}
			if req.VectorWeight == 0 && req.BM25Weight == 0 {
				req.VectorWeight = cfg.Retrieval.VectorWeight
				req.BM25Weight = cfg.Retrieval.BM25Weight
			}
			if req.RRFConstant <= 0 {
				req.RRFConstant = cfg.Retrieval.RRFConstant
			}

			resp, err := a.engine.Retrieve(cmd.Context(), req)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			output.New(cmd.OutOrStdout()).SearchResults(query, resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default from config)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Fusion strategy: weighted or rrf")
	cmd.Flags().Float64Var(&vectorWeight, "vector-weight", 0, "Vector leg weight for weighted fusion")
	cmd.Flags().Float64Var(&bm25Weight, "bm25-weight", 0, "BM25 leg weight for weighted fusion")
	cmd.Flags().IntVar(&rrfConstant, "rrf-constant", 0, "RRF smoothing constant")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw response as JSON")
	return cmd
}
