package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

var (
	// entity command flags
	entProjectID   string
	entName        string
	entType        string
	entDescription string
	entAddedBy     string
	entMetadata    map[string]string
	entLimit       int
)

func init() {
	rootCmd.AddCommand(entityCmd)
	entityCmd.AddCommand(entityCreateCmd)
	entityCmd.AddCommand(entityGetCmd)
	entityCmd.AddCommand(entityListCmd)
	entityCmd.AddCommand(entityDeleteCmd)
	entityCmd.AddCommand(entitySimilarCmd)

	entityCmd.PersistentFlags().StringVar(&entProjectID, "project", models.DefaultProjectID, "Project identifier")

	entityCreateCmd.Flags().StringVar(&entName, "name", "", "Entity name (required)")
	entityCreateCmd.Flags().StringVar(&entType, "type", "", "Entity type (required)")
	entityCreateCmd.Flags().StringVar(&entDescription, "description", "", "Entity description")
	entityCreateCmd.Flags().StringVar(&entAddedBy, "added-by", "", "Author recorded on the entity")
	entityCreateCmd.Flags().StringToStringVar(&entMetadata, "meta", nil, "Metadata as key=value pairs")
	_ = entityCreateCmd.MarkFlagRequired("name")
	_ = entityCreateCmd.MarkFlagRequired("type")

	entityListCmd.Flags().StringVar(&entType, "type", "", "Only list entities of this type")

	entitySimilarCmd.Flags().IntVar(&entLimit, "limit", 5, "Maximum number of similar entities")
}

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage entities",
	Long: `Manage the entities of a project's knowledge graph.

Examples:
  # Create an entity
  kgraph entity create --project billing --name InvoiceService --type service

  # Find entities similar to it
  kgraph entity similar <entity-id> --project billing`,
}

var entityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an entity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.store.CreateEntity(ctx, models.EntityInput{
				Name:        entName,
				Type:        entType,
				Description: entDescription,
				ProjectID:   entProjectID,
				Metadata:    parseMetadata(entMetadata),
				AddedBy:     entAddedBy,
			})
			if err != nil {
				return fmt.Errorf("failed to create entity: %w", err)
			}
			return printEntity(cmd, e)
		})
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get <entity-id>",
	Short: "Show an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.store.GetEntity(ctx, entProjectID, args[0])
			if err != nil {
				return fmt.Errorf("failed to get entity: %w", err)
			}
			if e == nil {
				return fmt.Errorf("entity %s not found in project %s", args[0], entProjectID)
			}
			return printEntity(cmd, e)
		})
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's entities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.store.ListEntities(ctx, entProjectID, entType)
			if err != nil {
				return fmt.Errorf("failed to list entities: %w", err)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No entities found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tOBSERVATIONS\tCREATED")
			for _, e := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					e.ID,
					truncate(e.Name, 30),
					truncate(e.Type, 16),
					len(e.Observations),
					e.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		})
	},
}

var entityDeleteCmd = &cobra.Command{
	Use:   "delete <entity-id>",
	Short: "Delete an entity and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			deleted, err := a.store.DeleteEntity(ctx, entProjectID, args[0])
			if err != nil && !deleted {
				return fmt.Errorf("failed to delete entity: %w", err)
			}
			if perr := printDeleted(cmd, "entity", args[0], deleted); perr != nil {
				return perr
			}
			if err != nil {
				return fmt.Errorf("entity deleted but relationship cleanup failed: %w", err)
			}
			return nil
		})
	},
}

var entitySimilarCmd = &cobra.Command{
	Use:   "similar <entity-id>",
	Short: "Find entities semantically similar to one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			hits, err := a.store.FindSimilarEntities(ctx, entProjectID, args[0], entLimit)
			if err != nil {
				return fmt.Errorf("failed to find similar entities: %w", err)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No similar entities found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSCORE")
			for _, h := range hits {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n", h.Entity.ID, truncate(h.Entity.Name, 30), h.Entity.Type, h.Score)
			}
			return w.Flush()
		})
	},
}

func printEntity(cmd *cobra.Command, e *models.Entity) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, e)
	}
	fmt.Fprintf(out, "ID: %s\n", e.ID)
	fmt.Fprintf(out, "Name: %s\n", e.Name)
	fmt.Fprintf(out, "Type: %s\n", e.Type)
	fmt.Fprintf(out, "Project: %s\n", e.ProjectID)
	if e.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", e.Description)
	}
	fmt.Fprintf(out, "Created: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, o := range e.Observations {
		fmt.Fprintf(out, "  - %s\n", o.Text)
	}
	return nil
}

func printDeleted(cmd *cobra.Command, kind, id string, deleted bool) error {
	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), map[string]any{"id": id, "deleted": deleted})
	}
	if !deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s %s found\n", kind, id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", kind, id)
	return nil
}
