package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

var (
	// relationship command flags
	relProjectID   string
	relSourceID    string
	relTargetID    string
	relType        string
	relDescription string
	relEntityID    string
	relStrength    float64
	relAddedBy     string
)

func init() {
	rootCmd.AddCommand(relationshipCmd)
	relationshipCmd.AddCommand(relationshipCreateCmd)
	relationshipCmd.AddCommand(relationshipListCmd)
	relationshipCmd.AddCommand(relationshipDeleteCmd)

	relationshipCmd.PersistentFlags().StringVar(&relProjectID, "project", models.DefaultProjectID, "Project identifier")

	relationshipCreateCmd.Flags().StringVar(&relSourceID, "source", "", "Source entity ID (required)")
	relationshipCreateCmd.Flags().StringVar(&relTargetID, "target", "", "Target entity ID (required)")
	relationshipCreateCmd.Flags().StringVar(&relType, "type", "", "Relationship type (required)")
	relationshipCreateCmd.Flags().StringVar(&relDescription, "description", "", "Relationship description")
	relationshipCreateCmd.Flags().Float64Var(&relStrength, "strength", 1.0, "Strength between 0 and 1")
	relationshipCreateCmd.Flags().StringVar(&relAddedBy, "added-by", "", "Author recorded on the relationship")
	_ = relationshipCreateCmd.MarkFlagRequired("source")
	_ = relationshipCreateCmd.MarkFlagRequired("target")
	_ = relationshipCreateCmd.MarkFlagRequired("type")

	relationshipListCmd.Flags().StringVar(&relSourceID, "source", "", "Only relationships from this entity")
	relationshipListCmd.Flags().StringVar(&relTargetID, "target", "", "Only relationships to this entity")
	relationshipListCmd.Flags().StringVar(&relType, "type", "", "Only relationships of this type")
	relationshipListCmd.Flags().StringVar(&relEntityID, "entity", "", "Only relationships touching this entity")
}

var relationshipCmd = &cobra.Command{
	Use:     "relationship",
	Aliases: []string{"rel"},
	Short:   "Manage relationships",
	Long: `Manage directed, typed edges between entities of one project.

Examples:
  # Link two entities
  kgraph relationship create --project billing --source <id> --target <id> --type calls

  # Everything touching an entity
  kgraph relationship list --project billing --entity <id>`,
}

var relationshipCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a relationship",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			strength := relStrength
			r, err := a.store.CreateRelationship(ctx, models.RelationshipInput{
				SourceID:    relSourceID,
				TargetID:    relTargetID,
				Type:        relType,
				Description: relDescription,
				ProjectID:   relProjectID,
				Strength:    &strength,
				AddedBy:     relAddedBy,
			})
			if err != nil {
				return fmt.Errorf("failed to create relationship: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return outputJSON(out, r)
			}
			fmt.Fprintf(out, "ID: %s\n", r.ID)
			fmt.Fprintf(out, "Edge: %s -[%s]-> %s\n", r.SourceID, r.Type, r.TargetID)
			fmt.Fprintf(out, "Strength: %.2f\n", r.Strength)
			return nil
		})
	},
}

var relationshipListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's relationships",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rels, err := a.store.GetRelationships(ctx, relProjectID, models.RelationshipFilter{
				SourceID: relSourceID,
				TargetID: relTargetID,
				Type:     relType,
				EntityID: relEntityID,
			})
			if err != nil {
				return fmt.Errorf("failed to list relationships: %w", err)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), rels)
			}
			if len(rels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No relationships found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tTYPE\tTARGET\tSTRENGTH")
			for _, r := range rels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n", r.ID, r.SourceID, truncate(r.Type, 20), r.TargetID, r.Strength)
			}
			return w.Flush()
		})
	},
}

var relationshipDeleteCmd = &cobra.Command{
	Use:   "delete <relationship-id>",
	Short: "Delete a relationship",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			deleted, err := a.store.DeleteRelationship(ctx, relProjectID, args[0])
			if err != nil {
				return fmt.Errorf("failed to delete relationship: %w", err)
			}
			return printDeleted(cmd, "relationship", args[0], deleted)
		})
	},
}
