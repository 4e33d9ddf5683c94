package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGCCmd constructs the `ragcore gc` command, which deletes orphaned
// documents. A document is orphaned when it has no active sessions and is
// not part of an owner's library pool.
func NewGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete orphaned documents and their embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			defer app.close()

			n, err := app.store.SweepOrphans(cmd.Context())
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			fmt.Printf("removed %d orphaned document(s)\n", n)
			return nil
		},
	}
}
