package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wvrzel/weave/internal/config"
)

const closeExitWait = 500 * time.Millisecond

// StdioDialer spawns MCP servers as subprocesses and speaks the protocol
// over their standard streams.
type StdioDialer struct{}

// NewStdioDialer returns the production dialer.
func NewStdioDialer() Dialer {
	return StdioDialer{}
}

// Dial spawns the server process, performs the protocol handshake and runs
// tool discovery. The returned connection owns the process. Events fire only
// for failures after Dial has returned successfully; handshake failures are
// reported through the error return instead.
func (StdioDialer) Dial(ctx context.Context, cfg config.ServerConfig, events ConnectionEvents) (Connection, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, fmt.Errorf("server %q has no command configured", cfg.Name)
	}

	// The process must outlive the dial context: reconciliation passes may
	// come and go while the connection stays up.
	cmd := exec.Command(command, cfg.ArgList()...)
	cmd.Env = mergeEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start server %q: %w", cfg.Name, err)
	}

	c := &Conn{
		serverID:   cfg.ID,
		serverName: cfg.Name,
		events:     events,
		cmd:        cmd,
		stdin:      stdin,
		reader:     bufio.NewReader(stdout),
		stderr:     newTailBuffer(4096),
		exitDone:   make(chan struct{}),
	}

	// Drain stderr to avoid blocking and retain a bounded tail for diagnostics.
	go io.Copy(c.stderr, stderr)
	go func() {
		c.markExited(cmd.Wait())
		c.handlePeerExit()
	}()

	if err := initializeSession(ctx, c); err != nil {
		c.Close()
		return nil, c.decorateError(err)
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		c.Close()
		return nil, c.decorateError(fmt.Errorf("list tools failed: %w", err))
	}
	c.setTools(tools)

	c.ready.Store(true)
	// The peer may have exited between discovery and this point; the exit
	// watcher skipped its event because ready was still false.
	if c.exitedNow() {
		c.handlePeerExit()
	}
	return c, nil
}

func mergeEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(extra))
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		key := parts[0]
		value := ""
		if len(parts) == 2 {
			value = parts[1]
		}
		merged[key] = value
	}
	for key, value := range extra {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		merged[trimmedKey] = value
	}

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	return out
}

// Conn is one live stdio MCP session.
type Conn struct {
	serverID   string
	serverName string
	events     ConnectionEvents
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	reader     *bufio.Reader
	stderr     *tailBuffer

	exitMu   sync.RWMutex
	exited   bool
	exitErr  error
	exitDone chan struct{}

	// mu serializes requests: at most one call is in flight per connection.
	mu     sync.Mutex
	nextID int64

	toolsMu sync.RWMutex
	tools   []ToolDefinition

	ready     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	eventOnce sync.Once
}

// ServerID returns the id of the config entry this connection serves.
func (c *Conn) ServerID() string {
	return c.serverID
}

// Connected reports whether the session is still usable.
func (c *Conn) Connected() bool {
	return !c.closed.Load() && !c.exitedNow()
}

// Tools returns the tool list captured at discovery time.
func (c *Conn) Tools() []ToolDefinition {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return append([]ToolDefinition(nil), c.tools...)
}

func (c *Conn) setTools(tools []ToolDefinition) {
	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()
	c.tools = append([]ToolDefinition(nil), tools...)
}

func (c *Conn) listTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.invoke(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	return decodeToolDefinitions(result, c.serverID)
}

// CallTool forwards one tool invocation and returns the joined text content
// of the result. Calls are serialized; callers must not rely on pipelining
// multiple invocations onto one connection.
func (c *Conn) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	if !c.Connected() {
		return "", fmt.Errorf("server %q is not connected", c.serverName)
	}

	args, err := parseToolArgs(compactJSONOrRaw(argsJSON))
	if err != nil {
		return "", err
	}
	result, err := c.invoke(ctx, "tools/call", map[string]any{
		"name":      strings.TrimSpace(name),
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	return decodeCallResult(result)
}

func (c *Conn) invoke(ctx context.Context, method string, params any) (any, error) {
	if err := c.processExitError(); err != nil {
		return nil, c.decorateError(err)
	}

	id := atomic.AddInt64(&c.nextID, 1)
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json-rpc request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeFramed(payload); err != nil {
		return nil, c.transportFailure(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		responsePayload, err := c.readFramed()
		if err != nil {
			return nil, c.transportFailure(err)
		}
		result, matched, err := decodeRPCResponse(responsePayload, id)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		return result, nil
	}
}

func (c *Conn) notify(ctx context.Context, method string, params any) error {
	if err := c.processExitError(); err != nil {
		return c.decorateError(err)
	}

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode json-rpc notification: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeFramed(payload); err != nil {
		return c.transportFailure(err)
	}
	return nil
}

// transportFailure decorates a read/write error and, for an established
// session, reports it out of band and tears the connection down.
func (c *Conn) transportFailure(err error) error {
	decorated := c.decorateError(err)
	if c.ready.Load() && !c.closed.Load() && c.events != nil {
		c.eventOnce.Do(func() {
			go func() {
				c.Close()
				c.events.OnConnectionError(c, decorated.Error())
			}()
		})
	}
	return decorated
}

// handlePeerExit fires the closed event when the server process exits on its
// own. Deliberate Close() suppresses it.
func (c *Conn) handlePeerExit() {
	if !c.ready.Load() || c.closed.Load() || c.events == nil {
		return
	}
	c.eventOnce.Do(func() {
		c.setTools(nil)
		c.events.OnConnectionClosed(c)
	})
}

// Close is idempotent and never returns an error: teardown failures are
// logged and swallowed so the connection always ends up disposed.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.eventOnce.Do(func() {}) // no events after a deliberate close

		if err := c.stdin.Close(); err != nil {
			slog.Debug("close stdin failed", "server", c.serverName, "error", err)
		}
		if c.cmd.Process != nil && !c.exitedNow() {
			if err := c.cmd.Process.Kill(); err != nil {
				slog.Debug("kill server process failed", "server", c.serverName, "error", err)
			}
		}
		c.waitForExit(closeExitWait)
		c.setTools(nil)
	})
}

func (c *Conn) writeFramed(payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(c.stdin, header); err != nil {
		return fmt.Errorf("write mcp header: %w", err)
	}
	if _, err := c.stdin.Write(payload); err != nil {
		return fmt.Errorf("write mcp payload: %w", err)
	}
	return nil
}

func (c *Conn) readFramed() ([]byte, error) {
	contentLength, err := readContentLength(c.reader)
	if err != nil {
		return nil, err
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read mcp payload: %w", err)
	}
	return body, nil
}

func (c *Conn) markExited(err error) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	if c.exited {
		return
	}
	c.exited = true
	c.exitErr = err
	close(c.exitDone)
}

func (c *Conn) exitedNow() bool {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()
	return c.exited
}

func (c *Conn) waitForExit(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	select {
	case <-c.exitDone:
	case <-time.After(timeout):
	}
}

func (c *Conn) processExitError() error {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()

	if !c.exited {
		return nil
	}
	if c.exitErr == nil {
		return fmt.Errorf("mcp server %q exited", c.serverName)
	}
	return fmt.Errorf("mcp server %q exited: %w", c.serverName, c.exitErr)
}

func (c *Conn) decorateError(err error) error {
	if err == nil {
		return nil
	}

	stderrTail := strings.TrimSpace(c.stderr.String())
	if processErr := c.processExitError(); processErr != nil {
		if stderrTail != "" {
			return fmt.Errorf("%w; process=%v; stderr=%s", err, processErr, stderrTail)
		}
		return fmt.Errorf("%w; process=%v", err, processErr)
	}

	if stderrTail != "" {
		return fmt.Errorf("%w; stderr=%s", err, stderrTail)
	}
	return err
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 1024
	}
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func readContentLength(reader *bufio.Reader) (int, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("read mcp header: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}

		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "Content-Length") {
			continue
		}

		value, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, fmt.Errorf("invalid content-length header %q: %w", trimmed, err)
		}
		if value <= 0 {
			return 0, fmt.Errorf("invalid content-length value: %d", value)
		}
		contentLength = value
	}

	if contentLength <= 0 {
		return 0, fmt.Errorf("missing content-length header")
	}
	return contentLength, nil
}
