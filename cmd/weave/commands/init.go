package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/config"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Weave configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Weave initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to add your API keys\n", configPath)
	fmt.Printf("2. Run 'weave servers add' to register MCP servers\n")
	fmt.Printf("3. Run 'weave chat' to start chatting\n")

	return nil
}
