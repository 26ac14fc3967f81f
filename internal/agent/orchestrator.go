package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/wvrzel/weave/internal/mcp"
	"github.com/wvrzel/weave/internal/metrics"
)

// Orchestrator drives the two-phase function-calling conversation: one model
// call with the aggregated tool catalog bound, an optional tool round routed
// to the owning server connection, and a second model call that turns the
// tool result into the final answer.
type Orchestrator struct {
	model    model.ChatModel
	engine   *mcp.Engine
	recorder *metrics.Recorder
}

// NewOrchestrator wires a chat model to the connection engine. recorder may
// be nil to disable tool-call metrics.
func NewOrchestrator(chatModel model.ChatModel, engine *mcp.Engine, recorder *metrics.Recorder) *Orchestrator {
	return &Orchestrator{
		model:    chatModel,
		engine:   engine,
		recorder: recorder,
	}
}

// Result is the structured outcome of one query. FinalContent is always
// non-empty; the tool fields are populated only when the model requested a
// tool. SourceServerID is set once a concrete owning server was involved,
// even when the call itself failed.
type Result struct {
	FinalContent        string
	ModelCallContent    string
	ToolResponseContent string
	ToolName            string
	ToolArgs            string
	ToolResult          string
	SourceServerID      string
}

// HasTools reports whether any routable tools are currently cataloged.
func (o *Orchestrator) HasTools() bool {
	return o.engine.Catalog().ToolCount() > 0
}

// ProcessQuery runs one user query against the model with the current tool
// catalog. It never returns an error: every backend, routing and transport
// failure is folded into the Result so the caller always has something to
// display.
func (o *Orchestrator) ProcessQuery(ctx context.Context, text string, history []*schema.Message) Result {
	if o.model == nil {
		return Result{FinalContent: "No model configured. Set a provider api_key in the config."}
	}

	catalog := o.engine.Catalog()
	tools := catalog.Tools()
	if len(tools) == 0 {
		return Result{FinalContent: "No MCP tools are available. Activate a server with `weave servers`, or chat without tools."}
	}

	if err := o.bindTools(tools); err != nil {
		return Result{FinalContent: "Failed to bind tools to the model: " + err.Error()}
	}

	messages := append(append([]*schema.Message(nil), history...), &schema.Message{
		Role:    schema.User,
		Content: text,
	})

	resp, err := o.model.Generate(ctx, messages)
	if err != nil {
		return Result{FinalContent: "Model call failed: " + err.Error()}
	}
	if resp == nil {
		return Result{FinalContent: "The model returned no response (it may have been blocked)."}
	}

	if len(resp.ToolCalls) == 0 {
		return Result{FinalContent: finalText(resp.Content)}
	}

	// Only the first requested call is processed; additional simultaneous
	// tool requests in the same turn are dropped.
	tc := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		slog.Warn("model requested multiple tool calls, processing first only",
			"first", tc.Function.Name,
			"requested", len(resp.ToolCalls),
		)
	}

	res := Result{
		ModelCallContent: resp.Content,
		ToolName:         tc.Function.Name,
		ToolArgs:         tc.Function.Arguments,
	}

	owner, ok := catalog.OwnerOf(tc.Function.Name)
	if !ok {
		slog.Warn("model requested unroutable tool", "tool", tc.Function.Name)
		return o.finishWithToolError(ctx, messages, resp, tc,
			fmt.Sprintf("Tool %q is not available on any connected server.", tc.Function.Name), res)
	}

	conn, live := o.engine.Connection(owner)
	res.SourceServerID = owner
	if !live || !conn.Connected() {
		slog.Warn("tool owner is not connected", "tool", tc.Function.Name, "server", owner)
		return o.finishWithToolError(ctx, messages, resp, tc,
			fmt.Sprintf("Tool %q is currently unavailable: its server (%s) is not connected.", tc.Function.Name, owner), res)
	}

	slog.Debug("routing tool call", "tool", tc.Function.Name, "server", owner)
	started := time.Now()
	toolResult, err := conn.CallTool(ctx, tc.Function.Name, tc.Function.Arguments)
	if recordErr := o.recorder.RecordToolCall(owner, time.Since(started), err); recordErr != nil {
		slog.Warn("failed to persist tool metrics", "error", recordErr)
	}
	if err != nil {
		// A failed execution is evidence the subprocess may be unhealthy.
		o.engine.NoteToolFailure(owner, conn, err.Error())
		return o.finishWithToolError(ctx, messages, resp, tc,
			fmt.Sprintf("Tool %q failed: %s", tc.Function.Name, err.Error()), res)
	}

	res.ToolResult = toolResult
	res.ToolResponseContent = toolResult
	res.FinalContent = o.followUp(ctx, messages, resp, tc, toolResult)
	return res
}

// finishWithToolError answers the pending function call with a synthetic
// error response and lets the model produce the final message, keeping the
// conversation protocol-valid without contacting any server.
func (o *Orchestrator) finishWithToolError(ctx context.Context, messages []*schema.Message, resp *schema.Message, tc schema.ToolCall, errText string, res Result) Result {
	res.ToolResponseContent = errText
	res.FinalContent = o.followUp(ctx, messages, resp, tc, errText)
	return res
}

// followUp issues the second model call with the tool response appended.
func (o *Orchestrator) followUp(ctx context.Context, messages []*schema.Message, resp *schema.Message, tc schema.ToolCall, toolContent string) string {
	messages = append(messages, resp, &schema.Message{
		Role:       schema.Tool,
		Content:    toolContent,
		ToolCallID: tc.ID,
	})

	final, err := o.model.Generate(ctx, messages)
	if err != nil {
		return "Model call failed: " + err.Error()
	}
	if final == nil {
		return "The model returned no response (it may have been blocked)."
	}
	return finalText(final.Content)
}

func (o *Orchestrator) bindTools(tools []*schema.ToolInfo) error {
	if binder, ok := o.model.(interface {
		BindTools([]*schema.ToolInfo) error
	}); ok {
		return binder.BindTools(tools)
	}
	return fmt.Errorf("model does not support tool binding")
}

// ProcessDirect runs a plain conversation turn without requiring any tools.
func (o *Orchestrator) ProcessDirect(ctx context.Context, text string, history []*schema.Message) (string, error) {
	if o.model == nil {
		return "", fmt.Errorf("no model configured")
	}
	messages := append(append([]*schema.Message(nil), history...), &schema.Message{
		Role:    schema.User,
		Content: text,
	})
	resp, err := o.model.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("model returned no response")
	}
	return finalText(resp.Content), nil
}

// StreamDirect is the streaming variant of ProcessDirect.
func (o *Orchestrator) StreamDirect(ctx context.Context, text string, history []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	if o.model == nil {
		return nil, fmt.Errorf("no model configured")
	}
	messages := append(append([]*schema.Message(nil), history...), &schema.Message{
		Role:    schema.User,
		Content: text,
	})
	return o.model.Stream(ctx, messages)
}

func finalText(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "Processing complete."
	}
	return content
}
