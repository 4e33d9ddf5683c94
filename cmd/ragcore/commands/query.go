package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docwell-ai/ragcore/internal/retrieval"
)

// NewQueryCmd constructs the `ragcore query` command, which retrieves
// relevant content from a session's active documents.
func NewQueryCmd() *cobra.Command {
	var sessionID string
	var mode string
	var topK int
	var threshold float64
	var maxChars int
	var authoritative bool
	var asContext bool
	var crossSessions []string

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve relevant content from a session's active documents",
		Long: `Run a retrieval query against the documents active in a session.

Vector mode (the default) ranks chunks by embedding similarity through the
approximate index. Keyword mode scores whole documents by query token overlap
and needs no embedding provider.

With --context, the output is the bounded context string as it would be
injected into an LLM prompt, falling back to keyword mode automatically if
the embedding provider is unavailable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if sessionID == "" {
				return fmt.Errorf("query: --session is required")
			}

			app, err := newApp()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer app.close()

			opts := retrieval.Options{
				TopK:            topK,
				Threshold:       threshold,
				MaxContextChars: maxChars,
				Authoritative:   authoritative,
				CrossSessions:   crossSessions,
			}

			if asContext {
				out, err := app.manager.ContextForLLM(ctx, sessionID, args[0], opts)
				if err != nil {
					return fmt.Errorf("query: %w", err)
				}
				if out == "" {
					fmt.Println("(no relevant context)")
					return nil
				}
				fmt.Println(out)
				return nil
			}

			result, err := app.manager.Retrieve(ctx, sessionID, args[0], retrieval.Mode(mode), opts)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session whose active documents are searched (required)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(retrieval.ModeVector), "Retrieval mode: vector, keyword")
	cmd.Flags().IntVarP(&topK, "top-k", "k", getEnvInt("RAGCORE_TOP_K", 0), "Maximum number of results")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", getEnvFloat("RAGCORE_THRESHOLD", 0), "Minimum cosine similarity for vector results")
	cmd.Flags().IntVar(&maxChars, "max-chars", getEnvInt("RAGCORE_MAX_CONTEXT_CHARS", 0), "Context string character budget")
	cmd.Flags().BoolVar(&authoritative, "authoritative", false, "Use the strict-grounding context wrapper")
	cmd.Flags().BoolVar(&asContext, "context", false, "Print the formatted LLM context instead of raw results")
	cmd.Flags().StringArrayVar(&crossSessions, "from-session", nil, "Also search this session's documents (repeatable, requires RAGCORE_CROSS_SESSION=true)")

	return cmd
}

// printResult writes a retrieval result in a compact human-readable form.
func printResult(r *retrieval.Result) {
	if r.Empty() {
		fmt.Println("no results")
		return
	}
	switch r.Mode {
	case retrieval.ModeVector:
		for i, c := range r.Chunks {
			fmt.Printf("%d. %s#%d  score=%.3f\n%s\n\n", i+1, c.DocumentID, c.ChunkIndex, c.Score, c.Text)
		}
	case retrieval.ModeKeyword:
		for i, d := range r.Documents {
			fmt.Printf("%d. %s  score=%.3f\n", i+1, d.Document.ID, d.Score)
		}
	}
	fmt.Printf("(%s mode, %dms)\n", r.Mode, r.Latency.Milliseconds())
}
