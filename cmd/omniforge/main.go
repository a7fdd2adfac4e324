// Package main provides the CLI entry point for the omniforge agent runtime.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "omniforge",
		Short:         "Multi-tenant agent execution runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildAgentCmd(), buildSkillCmd(), buildOAuthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
