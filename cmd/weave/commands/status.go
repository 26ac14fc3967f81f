package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/config"
	"github.com/wvrzel/weave/internal/mcp"
	"github.com/wvrzel/weave/internal/metrics"
)

const statusConnectTimeout = 8 * time.Second

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and MCP server health",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("=== Weave Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'weave init')")
	}

	fmt.Printf("\nModel: %s\n", cfg.Agent.Model)

	fmt.Println("\nProviders:")
	providers := []struct {
		name string
		key  string
	}{
		{"OpenRouter", cfg.Providers.OpenRouter.APIKey},
		{"Claude", cfg.Providers.Claude.APIKey},
		{"OpenAI", cfg.Providers.OpenAI.APIKey},
		{"DeepSeek", cfg.Providers.DeepSeek.APIKey},
		{"Ollama", cfg.Providers.Ollama.BaseURL},
	}
	for _, p := range providers {
		status := "Not configured"
		if p.key != "" {
			status = "Configured"
		}
		fmt.Printf("  %s: %s\n", p.name, status)
	}

	printToolCallStats()

	fmt.Println("\nMCP servers:")
	if len(cfg.Servers) == 0 {
		fmt.Println("  None configured (run 'weave servers add')")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusConnectTimeout)
	defer cancel()

	engine := mcp.NewEngine(mcp.NewStdioDialer())
	defer engine.Shutdown()
	engine.Sync(ctx, cfg.Servers)

	snap := engine.Snapshot()
	for _, server := range cfg.Servers {
		line := describeServer(server, snap)
		fmt.Printf("  %s: %s\n", server.Name, line)
	}

	if dupes := snap.Duplicates; len(dupes) > 0 {
		fmt.Println("\nDuplicate tool names (suppressed):")
		names := make([]string, 0, len(dupes))
		for name := range dupes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: also declared by %s\n", name, strings.Join(dupes[name], ", "))
		}
	}

	return nil
}

func printToolCallStats() {
	stats, err := metrics.ReadSnapshot(config.ConfigDir())
	if err != nil || !stats.HasData() {
		return
	}

	fmt.Println("\nTool calls:")
	fmt.Printf("  total: %d (errors=%d, avg=%.0fms, p95~%dms)\n",
		stats.Total.Calls, stats.Total.Errors, stats.Total.AvgLatencyMs(), stats.Total.P95ProxyLatencyMs)
	for _, id := range stats.ServerIDs() {
		s := stats.Servers[id]
		fmt.Printf("  %s: %d calls, %d errors\n", id, s.Calls, s.Errors)
	}
}

func describeServer(server config.ServerConfig, snap mcp.Snapshot) string {
	if !server.Active {
		return "disabled"
	}
	switch snap.Statuses[server.ID] {
	case mcp.StatusConnected:
		return fmt.Sprintf("connected (tools=%d)", snap.ToolCounts[server.ID])
	case mcp.StatusError:
		msg := strings.TrimSpace(snap.Errors[server.ID])
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Sprintf("error (%s)", msg)
	case mcp.StatusConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}
