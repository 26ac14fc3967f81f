package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/config"
)

func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage MCP server entries",
	}

	cmd.AddCommand(
		newServersListCmd(),
		newServersAddCmd(),
		newServersRemoveCmd(),
		newServersEnableCmd(),
		newServersDisableCmd(),
	)

	return cmd
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		RunE:  runServersList,
	}
}

func newServersAddCmd() *cobra.Command {
	var envPairs []string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add <name> <command> [args...]",
		Short: "Add an MCP server entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersAdd(args, envPairs, disabled)
		},
	}
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Environment variable for the server process (KEY=VALUE, repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the entry without activating it")
	return cmd
}

func newServersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runServersRemove,
	}
}

func newServersEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Mark an MCP server entry active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setServerActive(args[0], true)
		},
	}
}

func newServersDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Mark an MCP server entry inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setServerActive(args[0], false)
		},
	}
}

func runServersList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.Servers) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	for _, s := range cfg.Servers {
		state := "disabled"
		if s.Active {
			state = "active"
		}
		fmt.Printf("%s [%s]\n", s.Name, state)
		fmt.Printf("  id:      %s\n", s.ID)
		fmt.Printf("  command: %s", s.Command)
		if s.Args != "" {
			fmt.Printf(" %s", s.Args)
		}
		fmt.Println()
		if len(s.Env) > 0 {
			keys := make([]string, 0, len(s.Env))
			for key := range s.Env {
				keys = append(keys, key)
			}
			fmt.Printf("  env:     %s\n", strings.Join(keys, ", "))
		}
	}
	return nil
}

func runServersAdd(args, envPairs []string, disabled bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	name := strings.TrimSpace(args[0])
	if name == "" {
		return fmt.Errorf("server name must not be empty")
	}
	if _, exists := cfg.ServerByName(name); exists {
		return fmt.Errorf("server %q already exists", name)
	}

	env := make(map[string]string, len(envPairs))
	for _, pair := range envPairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
		}
		env[strings.TrimSpace(key)] = value
	}

	entry := config.ServerConfig{
		// The id is permanent: renames keep connection bookkeeping intact.
		ID:      uuid.NewString(),
		Name:    name,
		Command: args[1],
		Args:    strings.Join(args[2:], " "),
		Active:  !disabled,
		Env:     env,
	}
	cfg.Servers = append(cfg.Servers, entry)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Added MCP server %s (id %s).\n", name, entry.ID)
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	target, ok := cfg.ServerByName(args[0])
	if !ok {
		return fmt.Errorf("server not found: %s", args[0])
	}

	kept := cfg.Servers[:0]
	for _, s := range cfg.Servers {
		if s.ID != target.ID {
			kept = append(kept, s)
		}
	}
	cfg.Servers = kept

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Removed MCP server %s.\n", target.Name)
	return nil
}

func setServerActive(name string, active bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	target, ok := cfg.ServerByName(name)
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}

	for i := range cfg.Servers {
		if cfg.Servers[i].ID == target.ID {
			cfg.Servers[i].Active = active
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("MCP server %s %s.\n", target.Name, state)
	return nil
}
