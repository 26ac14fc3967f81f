package mcp

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/schema"
)

// fakeConn is an in-memory Connection for catalog and engine tests.
type fakeConn struct {
	serverID   string
	tools      []ToolDefinition
	callResult string
	callErr    error
	closed     atomic.Bool
	calls      atomic.Int32
}

func (f *fakeConn) ServerID() string { return f.serverID }

func (f *fakeConn) Connected() bool { return !f.closed.Load() }

func (f *fakeConn) Tools() []ToolDefinition { return f.tools }

func (f *fakeConn) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	f.calls.Add(1)
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.callResult, nil
}

func (f *fakeConn) Close() { f.closed.Store(true) }

func stringTool(name, desc string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: desc,
		Params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Required: true},
		},
	}
}

func TestBuildCatalog_FirstWriterWins(t *testing.T) {
	conns := map[string]Connection{
		"srv-b": &fakeConn{serverID: "srv-b", tools: []ToolDefinition{
			stringTool("search", "search via B"),
			stringTool("fetch", "fetch via B"),
		}},
		"srv-a": &fakeConn{serverID: "srv-a", tools: []ToolDefinition{
			stringTool("search", "search via A"),
		}},
	}

	cat := buildCatalog(conns, nil)

	owner, ok := cat.OwnerOf("search")
	if !ok || owner != "srv-a" {
		t.Fatalf("expected srv-a to own search (lowest id wins), got %q ok=%v", owner, ok)
	}
	owner, ok = cat.OwnerOf("fetch")
	if !ok || owner != "srv-b" {
		t.Fatalf("expected srv-b to own fetch, got %q ok=%v", owner, ok)
	}
	if cat.ToolCount() != 2 {
		t.Fatalf("expected 2 routable tools, got %d", cat.ToolCount())
	}

	dupes := cat.Duplicates()
	if got := dupes["search"]; len(got) != 1 || got[0] != "srv-b" {
		t.Fatalf("expected srv-b recorded as suppressed duplicate, got %v", dupes)
	}
}

func TestBuildCatalog_StableOrder(t *testing.T) {
	conns := map[string]Connection{
		"srv-c": &fakeConn{serverID: "srv-c", tools: []ToolDefinition{stringTool("gamma", "")}},
		"srv-a": &fakeConn{serverID: "srv-a", tools: []ToolDefinition{stringTool("alpha", "")}},
		"srv-b": &fakeConn{serverID: "srv-b", tools: []ToolDefinition{stringTool("beta", "")}},
	}

	tools := buildCatalog(conns, nil).Tools()
	want := []string{"alpha", "beta", "gamma"}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Fatalf("tools out of order at %d: got %q, want %q", i, tools[i].Name, name)
		}
	}
}

func TestBuildCatalog_SkipsDeadConnections(t *testing.T) {
	dead := &fakeConn{serverID: "srv-dead", tools: []ToolDefinition{stringTool("search", "")}}
	dead.Close()

	conns := map[string]Connection{
		"srv-dead": dead,
		"srv-live": &fakeConn{serverID: "srv-live", tools: []ToolDefinition{stringTool("search", "")}},
	}

	cat := buildCatalog(conns, nil)
	owner, ok := cat.OwnerOf("search")
	if !ok || owner != "srv-live" {
		t.Fatalf("expected live server to own search, got %q ok=%v", owner, ok)
	}
	if len(cat.Duplicates()) != 0 {
		t.Fatalf("dead connection must not count as a duplicate, got %v", cat.Duplicates())
	}
}

func TestBuildCatalog_EmptyDescriptionFallsBackToName(t *testing.T) {
	conns := map[string]Connection{
		"srv-a": &fakeConn{serverID: "srv-a", tools: []ToolDefinition{stringTool("lookup", "")}},
	}

	tools := buildCatalog(conns, nil).Tools()
	if len(tools) != 1 || tools[0].Desc != "lookup" {
		t.Fatalf("expected description fallback to tool name, got %+v", tools)
	}
}

func TestCatalog_OwnerReleasedAfterDisconnect(t *testing.T) {
	state := newClientState()
	a := &fakeConn{serverID: "srv-a", tools: []ToolDefinition{stringTool("search", "")}}
	b := &fakeConn{serverID: "srv-b", tools: []ToolDefinition{stringTool("search", "")}}

	state.beginConnecting("srv-a")
	state.setConnected("srv-a", a)
	state.beginConnecting("srv-b")
	state.setConnected("srv-b", b)

	if owner, _ := state.Catalog().OwnerOf("search"); owner != "srv-a" {
		t.Fatalf("expected srv-a to own search, got %q", owner)
	}

	state.setDisconnected("srv-a")

	// srv-b lost the name while srv-a held it; its declaration is never
	// promoted, the name simply has no owner now.
	if owner, ok := state.Catalog().OwnerOf("search"); ok {
		t.Fatalf("expected search unowned after owner disconnect, got %q", owner)
	}
	if got := state.Catalog().Duplicates()["search"]; len(got) != 1 || got[0] != "srv-b" {
		t.Fatalf("expected srv-b still recorded as suppressed, got %v", got)
	}
}

func TestCatalog_SuppressionEndsWhenLoserDeparts(t *testing.T) {
	state := newClientState()
	a := &fakeConn{serverID: "srv-a", tools: []ToolDefinition{stringTool("search", "")}}
	b := &fakeConn{serverID: "srv-b", tools: []ToolDefinition{stringTool("search", "")}}

	state.beginConnecting("srv-a")
	state.setConnected("srv-a", a)
	state.beginConnecting("srv-b")
	state.setConnected("srv-b", b)
	state.setDisconnected("srv-a")
	state.setDisconnected("srv-b")

	// A fresh srv-b session is a fresh declaration; nothing is suppressed
	// anymore, so it can claim the name.
	fresh := &fakeConn{serverID: "srv-b", tools: []ToolDefinition{stringTool("search", "")}}
	state.beginConnecting("srv-b")
	state.setConnected("srv-b", fresh)

	owner, ok := state.Catalog().OwnerOf("search")
	if !ok || owner != "srv-b" {
		t.Fatalf("expected reconnected srv-b to own search, got %q ok=%v", owner, ok)
	}
}
