// Package commands defines all Cobra CLI commands for the ragcore binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/docwell-ai/ragcore/internal/audit"
	"github.com/docwell-ai/ragcore/internal/config"
	"github.com/docwell-ai/ragcore/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcore",
		Short: "ragcore is a local-first retrieval core for document-grounded chat",
		Long: `ragcore manages uploaded documents, their embeddings, and retrieval.

Documents are stored once in a local SQLite database, activated per chat
session, chunked and embedded on demand, and searched with either a keyword
strategy or an approximate vector index with exact cosine refinement.

Embedding provider is selected via the EMBEDDING_PROVIDER environment
variable or a YAML config file (~/.ragcore/config.yaml).
See 'ragcore --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragcore/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewActivateCmd(),
		NewDeactivateCmd(),
		NewDocsCmd(),
		NewQueryCmd(),
		NewGCCmd(),
		NewVersionCmd(),
	)

	return root
}
