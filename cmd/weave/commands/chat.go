package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/agent"
	"github.com/wvrzel/weave/internal/config"
	"github.com/wvrzel/weave/internal/mcp"
	"github.com/wvrzel/weave/internal/metrics"
	"github.com/wvrzel/weave/internal/provider"
	"github.com/wvrzel/weave/internal/session"
)

const historyReplayLimit = 40

var sessionName string

func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with tools from connected MCP servers",
		RunE:  runChat,
	}
	cmd.Flags().StringVar(&sessionName, "session", "default", "Named session transcript to resume")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		model = nil
	}

	engine := mcp.NewEngine(mcp.NewStdioDialer())
	defer engine.Shutdown()

	fmt.Println("Connecting to MCP servers...")
	engine.Sync(ctx, cfg.Servers)
	printConnectionSummary(engine.Snapshot())

	// Config edits while the session is running reconcile connections in
	// place; the conversation is not interrupted.
	if err := config.Watch(config.ConfigPath(), func(next *config.Config) {
		engine.Reconcile(ctx, next.Servers)
	}); err != nil {
		fmt.Printf("Warning: config watch disabled: %v\n", err)
	}

	orch := agent.NewOrchestrator(model, engine, metrics.NewRecorder(config.ConfigDir()))

	if len(args) > 0 {
		return runOnce(ctx, orch, strings.Join(args, " "))
	}

	sessions := session.NewManager(config.ConfigDir())
	sess := sessions.Open(sessionName)
	defer func() {
		if err := sessions.Save(sess); err != nil {
			fmt.Printf("Warning: failed to save session: %v\n", err)
		}
	}()

	fmt.Println("Weave ready. Type 'exit' to quit, 'tools' to list available tools.")
	scanner := bufio.NewScanner(os.Stdin)
	history := sess.History(historyReplayLimit)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}
		if input == "tools" {
			printCatalog(engine.Catalog())
			continue
		}

		var reply string
		if orch.HasTools() {
			res := orch.ProcessQuery(ctx, input, history)
			if res.ToolName != "" {
				fmt.Printf("[tool %s @ %s]\n", res.ToolName, res.SourceServerID)
			}
			fmt.Println(res.FinalContent)
			reply = res.FinalContent
		} else {
			reply = streamReply(ctx, orch, input, history)
		}

		history = append(history,
			&schema.Message{Role: schema.User, Content: input},
			&schema.Message{Role: schema.Assistant, Content: reply},
		)
		sess.Append(string(schema.User), input)
		sess.Append(string(schema.Assistant), reply)
	}

	return nil
}

// streamReply runs a plain conversation turn when no catalog tools exist,
// printing the answer as it streams in.
func streamReply(ctx context.Context, orch *agent.Orchestrator, input string, history []*schema.Message) string {
	reader, err := orch.StreamDirect(ctx, input, history)
	if err != nil {
		msg := "Model call failed: " + err.Error()
		fmt.Println(msg)
		return msg
	}
	defer reader.Close()

	var reply strings.Builder
	for {
		chunk, recvErr := reader.Recv()
		if recvErr != nil {
			if !errors.Is(recvErr, io.EOF) {
				fmt.Printf("\n[stream interrupted: %v]", recvErr)
			}
			break
		}
		fmt.Print(chunk.Content)
		reply.WriteString(chunk.Content)
	}
	fmt.Println()
	return reply.String()
}

func runOnce(ctx context.Context, orch *agent.Orchestrator, message string) error {
	if !orch.HasTools() {
		reply, err := orch.ProcessDirect(ctx, message, nil)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}
	res := orch.ProcessQuery(ctx, message, nil)
	if res.ToolName != "" {
		fmt.Printf("[tool %s @ %s]\n", res.ToolName, res.SourceServerID)
	}
	fmt.Println(res.FinalContent)
	return nil
}

func printConnectionSummary(snap mcp.Snapshot) {
	connected := snap.ConnectedCount()
	total := len(snap.Statuses)
	if total == 0 {
		fmt.Println("No MCP servers configured.")
		return
	}
	fmt.Printf("Connected to %d/%d MCP servers.\n", connected, total)
	for id, status := range snap.Statuses {
		if status == mcp.StatusError {
			fmt.Printf("  %s: error (%s)\n", id, snap.Errors[id])
		}
	}
}

func printCatalog(catalog *mcp.Catalog) {
	tools := catalog.Tools()
	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return
	}
	fmt.Printf("Available tools (%d):\n", len(tools))
	for _, tool := range tools {
		server, _ := catalog.OwnerOf(tool.Name)
		fmt.Printf("  %s (%s): %s\n", tool.Name, server, tool.Desc)
	}
	for name, losers := range catalog.Duplicates() {
		fmt.Printf("  ! duplicate %q also declared by %s (suppressed)\n", name, strings.Join(losers, ", "))
	}
}
