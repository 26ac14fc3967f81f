package commands

import (
	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/config"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weave",
		Short: "Weave - MCP tool router for conversational agents",
		Long:  `Weave connects MCP tool servers to an LLM and routes function calls between them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, cmd.Name() == "chat")
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewChatCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewServersCmd(),
		NewVersionCmd(),
	)

	return cmd
}
