package mcp

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"github.com/wvrzel/weave/internal/config"
)

// Status is the connection lifecycle state tracked per known server id.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ToolDefinition describes a tool discovered from an MCP server, with its
// input schema already translated into the model-facing parameter form.
type ToolDefinition struct {
	Name        string
	Description string
	Params      map[string]*schema.ParameterInfo
}

// Connection is one live MCP server session. Implemented by *Conn for the
// stdio subprocess transport and by fakes in tests.
type Connection interface {
	ServerID() string
	Connected() bool
	Tools() []ToolDefinition
	CallTool(ctx context.Context, name, argsJSON string) (string, error)
	Close()
}

// ConnectionEvents receives out-of-band transport notifications. Handlers are
// injected at dial time and must tolerate being invoked at any point,
// including after teardown of the connection has already started. The
// originating connection is passed so the handler can ignore events from a
// session it has already replaced.
type ConnectionEvents interface {
	// OnConnectionError reports a transport-level failure after a successful
	// handshake. The connection has already released its resources.
	OnConnectionError(c Connection, msg string)

	// OnConnectionClosed reports that the server process exited on its own.
	OnConnectionClosed(c Connection)
}

// Dialer establishes connections. The production implementation spawns a
// subprocess and speaks MCP over its standard streams.
type Dialer interface {
	Dial(ctx context.Context, cfg config.ServerConfig, events ConnectionEvents) (Connection, error)
}
