package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docwell-ai/ragcore/internal/store"
)

// NewIngestCmd constructs the `ragcore ingest` command, which stores a
// document, activates it in a session, and optionally pre-warms its
// embeddings.
func NewIngestCmd() *cobra.Command {
	var id string
	var sessionID string
	var ownerID string
	var persistent bool
	var warm bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Store a document and activate it in a session",
		Long: `Store a document in the local database and activate it for a session.

Reads the document text from the given file, or from stdin when the path is
"-" or omitted. The document is stored once and can be activated in any
number of sessions afterwards with 'ragcore activate'.

With --warm (the default), embeddings are generated immediately so the first
query does not pay the generation cost. Pass --warm=false to defer generation
to query time.

Examples:
  ragcore ingest --session s1 lease.txt
  cat notes.md | ragcore ingest --session s1 --id notes
  ragcore ingest --session s1 --owner alice --persistent contract.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			content, err := readInput(args)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(content) == 0 {
				return fmt.Errorf("ingest: document is empty")
			}
			if sessionID == "" {
				return fmt.Errorf("ingest: --session is required")
			}
			if id == "" {
				id = uuid.NewString()
			}

			app, err := newApp()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer app.close()

			doc := &store.Document{
				ID:            id,
				OwnerID:       ownerID,
				OriginSession: sessionID,
				Content:       string(content),
				SizeBytes:     len(content),
				Persistent:    persistent,
			}
			if err := app.store.PutDocument(ctx, doc); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if err := app.store.Activate(ctx, id, sessionID); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			app.log.Info("document stored",
				slog.String("document_id", id),
				slog.String("session_id", sessionID),
				slog.Int("size_bytes", len(content)),
			)

			if warm {
				if err := app.cache.EnsureEmbeddings(ctx, sessionID); err != nil {
					return fmt.Errorf("ingest: warm embeddings: %w", err)
				}
				app.cache.Flush()
				app.log.Info("embeddings warmed", slog.String("session_id", sessionID))
			}

			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Document ID (default: random UUID)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to activate the document in (required)")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owning user ID")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "Add to the owner's library pool (survives orphaning)")
	cmd.Flags().BoolVar(&warm, "warm", true, "Generate embeddings immediately")

	return cmd
}

// readInput returns the document text from the file argument, or stdin when
// the argument is "-" or absent.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
