package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docwell-ai/ragcore/internal/store"
)

// NewDocsCmd constructs the `ragcore docs` command, which lists the
// documents active in a session or owned by a user.
func NewDocsCmd() *cobra.Command {
	var sessionID string
	var ownerID string

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List documents active in a session or owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sessionID == "") == (ownerID == "") {
				return fmt.Errorf("docs: exactly one of --session or --owner is required")
			}

			app, err := newApp()
			if err != nil {
				return fmt.Errorf("docs: %w", err)
			}
			defer app.close()

			var docs []store.Document
			if sessionID != "" {
				docs, err = app.store.ListActive(cmd.Context(), sessionID)
			} else {
				docs, err = app.store.ListOwned(cmd.Context(), ownerID)
			}
			if err != nil {
				return fmt.Errorf("docs: %w", err)
			}

			if len(docs) == 0 {
				fmt.Println("no documents")
				return nil
			}
			for _, d := range docs {
				marker := ""
				if d.Persistent {
					marker = " [library]"
				}
				fmt.Printf("%s  chunks=%d  size=%d  accessed=%s%s\n",
					d.ID, d.ChunkCount, d.SizeBytes,
					d.LastAccessedAt.Format("2006-01-02 15:04"), marker)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "List documents active in this session")
	cmd.Flags().StringVar(&ownerID, "owner", "", "List documents owned by this user")

	return cmd
}
