package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "mindful",
		Short: "Supportive companion gateway with per-user long-term memory",
		Long: strings.TrimSpace(`mindful is a conversational companion service.

It remembers each person across sessions: an HTTP gateway assigns anonymous
cookie identities, conversations persist in SQLite, and a background worker
folds every exchange into a compact per-user memory record.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.mindful config and workspace",
		Long:    "Create default configuration and workspace directories for a new mindful installation.",
		Example: "  mindful onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the companion gateway (HTTP plus optional Discord)",
		Long:  "Run the HTTP gateway with cookie identity, conversation persistence, and the background memory worker. Discord is attached when a bot token is configured.",
		Example: strings.Join([]string{
			"  mindful serve",
			"  MINDFUL_GATEWAY_PORT=9000 mindful serve",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newChatCommand() *cobra.Command {
	var (
		message  string
		identity string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion locally (CLI mode)",
		Long:  "Run an interactive local session or send a one-shot message. The session shares the same conversation store and memory as the gateway.",
		Example: strings.Join([]string{
			"  mindful chat",
			"  mindful chat --identity cli:journal",
			"  mindful chat --message \"I had a rough day\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(identity, message)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send to the companion")
	cmd.Flags().StringVarP(&identity, "identity", "i", "cli:default", "Identity key for memory continuity")

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and readiness",
		Example: "  mindful status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
