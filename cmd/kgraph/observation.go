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
	// observation command flags
	obsProjectID string
	obsEntityID  string
	obsAddedBy   string
	obsLimit     int
)

func init() {
	rootCmd.AddCommand(observationCmd)
	observationCmd.AddCommand(observationAddCmd)
	observationCmd.AddCommand(observationSearchCmd)

	observationCmd.PersistentFlags().StringVar(&obsProjectID, "project", models.DefaultProjectID, "Project identifier")
	observationCmd.PersistentFlags().StringVar(&obsAddedBy, "added-by", "", "Author of the observation")

	observationSearchCmd.Flags().StringVar(&obsEntityID, "entity", "", "Only observations of this entity")
	observationSearchCmd.Flags().IntVar(&obsLimit, "limit", 0, "Maximum results (default from config)")
}

var observationCmd = &cobra.Command{
	Use:     "observation",
	Aliases: []string{"obs"},
	Short:   "Record and search observations on entities",
}

var observationAddCmd = &cobra.Command{
	Use:   "add <entity-id> <text>",
	Short: "Record an observation against an entity",
	Long: `Append a free-text observation to an entity. The entity is re-embedded
so the observation takes part in semantic search.

Examples:
  kgraph observation add 3f2c... "rate limited at 100 rps" --added-by alice`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.store.AddObservation(ctx, obsProjectID, args[0], text, obsAddedBy)
			if err != nil {
				return fmt.Errorf("failed to add observation: %w", err)
			}
			if id == "" {
				return fmt.Errorf("entity %s not found in project %s", args[0], obsProjectID)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]string{"id": id, "entityId": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Observation %s added\n", id)
			return nil
		})
	},
}

var observationSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search observation text",
	Long: `Search the observations of a project's entities. An observation scores
0.6 when it contains the whole query, plus up to 0.4 for the share of query
words it also contains. Observations scoring 0 are not shown.

Examples:
  kgraph observation search "rate limited" --project billing
  kgraph observation search timeout --entity 3f2c... --added-by alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			hits, err := a.store.SearchObservations(ctx, obsProjectID, query,
				models.ObservationFilter{EntityID: obsEntityID, AddedBy: obsAddedBy}, obsLimit)
			if err != nil {
				return fmt.Errorf("observation search failed: %w", err)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tENTITY\tBY\tTEXT")
			for _, h := range hits {
				fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n",
					h.Score, truncate(h.EntityName, 30), h.AddedBy, truncate(h.Text, 60))
			}
			return w.Flush()
		})
	},
}
