// Package main is the CLI entry point for conduit, a self-hosted gateway
// speaking the OpenAI Responses and Chat Completions wire protocols with
// server-side tool execution.
//
// Start the server:
//
//	conduit serve --config conduit.yaml
//
// Configuration can also arrive via environment variables referenced from the
// config file (${OPENAI_API_KEY} and friends are expanded at load time).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "conduit",
		Short: "OpenAI-compatible LLM gateway with server-side tools",
		Long: "Conduit is a self-hosted gateway exposing the Responses and Chat\n" +
			"Completions APIs over multiple upstream providers, with a server-side\n" +
			"tool loop covering native tools, MCP servers, and user functions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conduit %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
