package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

var (
	// project command flags
	prjID          string
	prjName        string
	prjDescription string
	prjMetadata    map[string]string
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	projectCreateCmd.Flags().StringVar(&prjID, "id", "", "Project ID (generated when empty)")
	projectCreateCmd.Flags().StringVar(&prjName, "name", "", "Project name (required)")
	projectCreateCmd.Flags().StringVar(&prjDescription, "description", "", "Project description")
	projectCreateCmd.Flags().StringToStringVar(&prjMetadata, "meta", nil, "Metadata as key=value pairs")
	_ = projectCreateCmd.MarkFlagRequired("name")
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Manage projects, the namespaces that partition the knowledge graph.

Deleting a project removes all of its entities and relationships. The
default project cannot be deleted.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.store.CreateProject(ctx, models.ProjectInput{
				ID:          prjID,
				Name:        prjName,
				Description: prjDescription,
				Metadata:    parseMetadata(prjMetadata),
			})
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return outputJSON(out, p)
			}
			fmt.Fprintf(out, "Project created successfully\n")
			fmt.Fprintf(out, "ID: %s\n", p.ID)
			fmt.Fprintf(out, "Name: %s\n", p.Name)
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects by activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.store.ListProjects(ctx)
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), stats)
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENTITIES\tRELATIONSHIPS\tACTIVITY\tLAST ACCESSED")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					truncate(s.Project.ID, 36),
					truncate(s.Project.Name, 30),
					s.EntityCount,
					s.RelationshipCount,
					s.ActivityScore,
					s.Project.LastAccessed.Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			deleted, err := a.store.DeleteProject(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to delete project: %w", err)
			}
			return printDeleted(cmd, "project", args[0], deleted)
		})
	},
}
