package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wvrzel/weave/internal/config"
)

// Engine keeps the set of live connections aligned with the desired server
// configuration. Reconciliation is deterministic over a config snapshot:
// servers marked active that are neither connected nor connecting are dialed,
// servers that are connected but inactive or deleted are torn down, and
// bookkeeping for deleted ids is purged eagerly. Connects and disconnects for
// different servers are issued concurrently and never wait on each other.
type Engine struct {
	dialer Dialer
	state  *clientState

	// wg tracks in-flight connect/disconnect operations so Sync and tests
	// can wait for a pass to settle.
	wg sync.WaitGroup

	mu      sync.Mutex
	desired map[string]bool
	known   map[string]bool
}

// NewEngine creates an engine around the given dialer.
func NewEngine(dialer Dialer) *Engine {
	return &Engine{
		dialer:  dialer,
		state:   newClientState(),
		desired: make(map[string]bool),
		known:   make(map[string]bool),
	}
}

// Reconcile brings connection state toward the given config snapshot. It is
// idempotent and safe to call at any time: startup, every config change, or
// manually. All connection work is issued asynchronously; Reconcile returns
// once the operations are underway.
func (e *Engine) Reconcile(ctx context.Context, configs []config.ServerConfig) {
	desired := make(map[string]bool, len(configs))
	known := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		known[cfg.ID] = true
		if cfg.Active {
			desired[cfg.ID] = true
		}
	}

	e.mu.Lock()
	e.desired = desired
	e.known = known
	e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		// beginConnecting refuses ids that are already Connected or have a
		// connect in flight, so overlapping reconcile passes cannot spawn
		// duplicate attempts.
		if !e.state.beginConnecting(cfg.ID) {
			continue
		}
		e.wg.Add(1)
		go e.connect(ctx, cfg)
	}

	for _, id := range e.state.knownIDs() {
		if !known[id] {
			// Config entry deleted entirely: tear down any live connection
			// and purge status/error bookkeeping, it is gone, not merely
			// disconnected.
			if conn, ok := e.state.takeConn(id); ok {
				e.closeAsync(conn)
			}
			e.state.remove(id)
			continue
		}
		if desired[id] {
			continue
		}
		if conn, ok := e.state.takeConn(id); ok {
			e.closeAsync(conn)
			e.state.setDisconnected(id)
			continue
		}
		// No live connection to tear down, but the id may be stranded in
		// Error from a failed dial. Deactivated servers end up Disconnected.
		e.state.settleInactive(id)
	}
}

// Sync reconciles and waits for the resulting connection work to settle.
// Intended for sequential callers (startup, one-shot commands, tests).
func (e *Engine) Sync(ctx context.Context, configs []config.ServerConfig) {
	e.Reconcile(ctx, configs)
	e.wg.Wait()
}

func (e *Engine) connect(ctx context.Context, cfg config.ServerConfig) {
	defer e.wg.Done()

	conn, err := e.dialer.Dial(ctx, cfg, e)

	// The config may have changed while the dial was in flight.
	e.mu.Lock()
	wanted := e.desired[cfg.ID]
	exists := e.known[cfg.ID]
	e.mu.Unlock()

	if err != nil {
		slog.Warn("mcp server connect failed", "server", cfg.Name, "id", cfg.ID, "error", err)
		if exists {
			e.state.setError(cfg.ID, err.Error())
		}
		return
	}

	if !exists {
		conn.Close()
		e.state.remove(cfg.ID)
		return
	}
	if !wanted {
		conn.Close()
		e.state.setDisconnected(cfg.ID)
		return
	}

	e.state.setConnected(cfg.ID, conn)
	slog.Info("mcp server connected", "server", cfg.Name, "id", cfg.ID, "tools", len(conn.Tools()))
}

func (e *Engine) closeAsync(conn Connection) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		conn.Close()
	}()
}

// Shutdown tears down every live connection concurrently, best effort. It
// does not wait for per-connection acknowledgement; process exit may race
// ahead of subprocess termination.
func (e *Engine) Shutdown() {
	for id, conn := range e.state.liveConns() {
		e.state.setDisconnected(id)
		go conn.Close()
	}
}

// OnConnectionError implements ConnectionEvents: a mid-session transport
// failure downgrades the server to Error, unless the reconciler has already
// replaced that connection.
func (e *Engine) OnConnectionError(c Connection, msg string) {
	slog.Warn("mcp connection error", "id", c.ServerID(), "error", msg)
	e.state.setErrorIf(c.ServerID(), c, msg)
}

// OnConnectionClosed implements ConnectionEvents: the server process exited
// on its own. The id stays known; a later reconcile pass reconnects it if the
// config still wants it active.
func (e *Engine) OnConnectionClosed(c Connection) {
	slog.Info("mcp server closed connection", "id", c.ServerID())
	e.state.setDisconnectedIf(c.ServerID(), c)
}

// NoteToolFailure records a failed tool execution against the owning
// connection. A tool-execution failure is evidence the subprocess may be
// unhealthy, so the connection is downgraded to Error.
func (e *Engine) NoteToolFailure(id string, conn Connection, msg string) {
	e.state.setErrorIf(id, conn, msg)
}

// Catalog returns the current merged tool catalog.
func (e *Engine) Catalog() *Catalog {
	return e.state.Catalog()
}

// Connection returns the live connection for a server id, if any.
func (e *Engine) Connection(id string) (Connection, bool) {
	return e.state.connection(id)
}

// Snapshot returns a read-only view of per-server state for display.
func (e *Engine) Snapshot() Snapshot {
	return e.state.snapshot()
}
