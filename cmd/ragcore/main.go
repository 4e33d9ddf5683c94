// Command ragcore is the entry point for the document retrieval core.
// It provides a CLI interface (via Cobra) for ingesting documents,
// managing session activations, and running retrieval queries.
package main

import (
	"fmt"
	"os"

	"github.com/docwell-ai/ragcore/cmd/ragcore/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
