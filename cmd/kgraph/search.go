package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

var (
	// search command flags
	srchProjectID     string
	srchLimit         int
	srchVectorWeight  float64
	srchKeywordWeight float64
	srchMinScore      float64
	srchType          string
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&srchProjectID, "project", models.DefaultProjectID, "Project identifier")
	searchCmd.Flags().IntVar(&srchLimit, "limit", 0, "Maximum results (default from config)")
	searchCmd.Flags().Float64Var(&srchVectorWeight, "vector-weight", 0, "Weight of semantic similarity")
	searchCmd.Flags().Float64Var(&srchKeywordWeight, "keyword-weight", 0, "Weight of keyword match")
	searchCmd.Flags().Float64Var(&srchMinScore, "min-score", 0, "Drop results scoring below this")
	searchCmd.Flags().StringVar(&srchType, "type", "", "Only entities of this type")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid semantic and keyword search over entities",
	Long: `Search a project's entities. Each candidate is scored as

  vector-weight * similarity + keyword-weight * keyword match

where the keyword match is 1 when any query word appears in the entity's
name or description and 0 otherwise. Unset flags fall back to the search
section of the configuration.

Examples:
  kgraph search "auth service" --project billing
  kgraph search payments --vector-weight 0.5 --keyword-weight 0.5 --min-score 0.2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		opts := a.store.SearchDefaults()
		flags := cmd.Flags()
		if flags.Changed("limit") {
			opts.Limit = srchLimit
		}
		if flags.Changed("vector-weight") {
			opts.VectorWeight = srchVectorWeight
		}
		if flags.Changed("keyword-weight") {
			opts.KeywordWeight = srchKeywordWeight
		}
		if flags.Changed("min-score") {
			opts.MinScore = srchMinScore
		}
		opts.EntityType = srchType

		results, err := a.store.HybridSearch(ctx, query, srchProjectID, opts)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), results)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No results")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tVECTOR\tKEYWORD\tID\tNAME\tTYPE")
		for _, r := range results {
			fmt.Fprintf(w, "%.3f\t%.3f\t%.2f\t%s\t%s\t%s\n",
				r.Score, r.VectorScore, r.KeywordMatch, r.Entity.ID, truncate(r.Entity.Name, 30), r.Entity.Type)
		}
		return w.Flush()
	})
}
