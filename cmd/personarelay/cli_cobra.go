package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/personarelay/pkg/logger"
)

func executeCLI() error {
	root := buildRootCommand(true)
	return root.Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Telegram persona relay that answers chats as you, by text or voice",
		Long: strings.TrimSpace(`personarelay answers incoming Telegram (and Discord) chats in a configured
persona. It keeps a short per-user conversation memory, transcribes voice
notes, answers voice with voice, and waits a human-looking delay before
replying.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newPersonaCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}
	return root
}

func newOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config and persona file under ~/.personarelay",
		Long:    "Create config.json and personas.yaml with defaults. Existing files are kept unless --force is given.",
		Example: "  personarelay onboard\n  personarelay onboard --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.OutOrStdout(), getConfigPath(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config and persona files")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the chat channels, relay, and health server",
		Long:    "Connect the configured Telegram and Discord bots and answer incoming messages until interrupted.",
		Example: "  personarelay gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			return runGateway(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the persona from the terminal",
		Long:  "Run an interactive console session, or send one message with --message, using the same memory and persona rules as the gateway.",
		Example: strings.Join([]string{
			"  personarelay chat",
			"  personarelay chat --user 42 --name Anna",
			"  personarelay chat --message \"hey, how was your day?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.debug {
				logger.SetLevel(logger.DEBUG)
			}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "console", "User id the conversation is remembered under")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Display name passed to the persona template")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newPersonaCommand() *cobra.Command {
	var userID, name string

	cmd := &cobra.Command{
		Use:     "persona",
		Short:   "Print the system prompt a user would get",
		Example: "  personarelay persona --user 123456 --name Anna",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPersona(cmd.OutOrStdout(), userID, name)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Platform user id")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name of the user")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, credentials, and channel readiness",
		Example: "  personarelay status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  personarelay version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
