// Package main is the entry point for the tidbcloud-skills CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	sutName       string
	skillDir      string
	verbose       bool
	metricsListen string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tidbcloud-skills",
		Short: "Agent-assisted exploration of cluster management APIs",
		Long: `tidbcloud-skills drives exploration sessions against a cluster
management API: it suggests the next operation for an intent, gates
risky steps behind confirmation, tracks resource lifecycles, and turns
successful explorations into replayable scenarios and shared knowledge.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&sutName, "sut", envOr("TIDBCLOUD_SUT", "tidbcloud"), "System under test name")
	root.PersistentFlags().StringVar(&skillDir, "skill-dir", "", "Skill root directory (defaults to auto-detection)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newOpenAPICmd())
	root.AddCommand(newKnowledgeCmd())

	return root
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
