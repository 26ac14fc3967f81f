package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/agent"
	"github.com/wvrzel/weave/internal/config"
	"github.com/wvrzel/weave/internal/mcp"
	"github.com/wvrzel/weave/internal/metrics"
	"github.com/wvrzel/weave/internal/provider"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <message>",
		Short: "Run a single query and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		return err
	}

	engine := mcp.NewEngine(mcp.NewStdioDialer())
	defer engine.Shutdown()
	engine.Sync(ctx, cfg.Servers)

	orch := agent.NewOrchestrator(model, engine, metrics.NewRecorder(config.ConfigDir()))
	return runOnce(ctx, orch, strings.Join(args, " "))
}
