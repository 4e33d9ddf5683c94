package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewActivateCmd constructs the `ragcore activate` command. Activation is
// idempotent: activating an already-active document is a no-op.
func NewActivateCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "activate <document-id>",
		Short: "Activate a stored document in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("activate: --session is required")
			}

			app, err := newApp()
			if err != nil {
				return fmt.Errorf("activate: %w", err)
			}
			defer app.close()

			if err := app.store.Activate(cmd.Context(), args[0], sessionID); err != nil {
				return fmt.Errorf("activate: %w", err)
			}
			fmt.Printf("activated %s in session %s\n", args[0], sessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to activate the document in (required)")

	return cmd
}

// NewDeactivateCmd constructs the `ragcore deactivate` command. When the
// last session releases a non-persistent document, its embeddings are
// discarded; the document text itself is kept.
func NewDeactivateCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "deactivate <document-id>",
		Short: "Deactivate a document in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("deactivate: --session is required")
			}

			app, err := newApp()
			if err != nil {
				return fmt.Errorf("deactivate: %w", err)
			}
			defer app.close()

			if err := app.store.Deactivate(cmd.Context(), args[0], sessionID); err != nil {
				return fmt.Errorf("deactivate: %w", err)
			}
			app.cache.Invalidate(args[0])
			fmt.Printf("deactivated %s in session %s\n", args[0], sessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to deactivate the document in (required)")

	return cmd
}
