// Kgraph stores and queries per-project knowledge graphs.
//
// The serve subcommand runs the daemon: it bootstraps the collections, starts
// the cache sweeper and exposes /health, /metrics and /stats. The remaining
// subcommands operate on the store directly.
//
// Usage:
//
//	# Start the daemon
//	kgraph serve
//
//	# Configure via environment
//	KGRAPH_QDRANT_HOST=qdrant KGRAPH_SERVER_HTTP_PORT=9191 kgraph serve
//
//	# Record an entity
//	kgraph entity create --project billing --name InvoiceService --type service
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kgraph/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/kgraph/config.yaml
	configPath string
	// jsonOutput switches every command to JSON output
	jsonOutput bool
)

// loadConfig is replaced in tests.
var loadConfig = config.LoadWithFile

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kgraph",
	Short: "Knowledge graph storage for projects",
	Long: `kgraph keeps entities, relationships and projects in a vector store and
answers hybrid semantic and keyword searches over them.

Configuration is read from ~/.config/kgraph/config.yaml (or --config) and
overridden by KGRAPH_* environment variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/kgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kgraph by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the collections and the default project",
	Long: `Create the entity, relationship and project collections if they are
missing, then create the default project. Running it again is harmless.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			cols := a.store.Collections()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), cols)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Collections ready: %s, %s, %s\n",
				cols.Entities, cols.Relationships, cols.Projects)
			return nil
		})
	},
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMetadata turns key=value flag values into a metadata map.
func parseMetadata(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]any, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}
