package mcp

import (
	"log/slog"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// Catalog is the merged tool namespace across all live connections. It is
// derived state: rebuilt whenever connections or their tool lists change,
// never persisted. The first connection (in ascending server-id order) to
// declare a tool name owns it; later declarations are recorded as duplicates
// and excluded from routing so the model never sees an ambiguous name.
// Suppression is sticky: a declaration that lost a name stays suppressed for
// as long as its connection persists, even after the owner departs.
// Ownership is released, never handed down.
type Catalog struct {
	owners     map[string]string
	duplicates map[string][]string
	byServer   map[string][]*schema.ToolInfo
	order      []string
}

func buildCatalog(conns map[string]Connection, prev *Catalog) *Catalog {
	cat := &Catalog{
		owners:     make(map[string]string),
		duplicates: make(map[string][]string),
		byServer:   make(map[string][]*schema.ToolInfo),
	}

	ids := make([]string, 0, len(conns))
	for id, conn := range conns {
		if conn == nil || !conn.Connected() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cat.order = ids

	// Carry forward suppressed declarations whose connection is still alive.
	// Entries for departed servers fall away here.
	suppressed := make(map[string]map[string]bool)
	if prev != nil {
		for name, losers := range prev.duplicates {
			for _, loser := range losers {
				if conn := conns[loser]; conn == nil || !conn.Connected() {
					continue
				}
				if suppressed[name] == nil {
					suppressed[name] = make(map[string]bool)
				}
				suppressed[name][loser] = true
			}
		}
	}

	for _, id := range ids {
		for _, def := range conns[id].Tools() {
			if suppressed[def.Name][id] {
				cat.duplicates[def.Name] = append(cat.duplicates[def.Name], id)
				continue
			}
			if owner, taken := cat.owners[def.Name]; taken {
				cat.duplicates[def.Name] = append(cat.duplicates[def.Name], id)
				slog.Warn("duplicate tool name suppressed",
					"tool", def.Name,
					"owner", owner,
					"suppressed", id,
				)
				continue
			}
			cat.owners[def.Name] = id
			cat.byServer[id] = append(cat.byServer[id], toolInfo(id, def))
		}
	}
	return cat
}

func toolInfo(serverID string, def ToolDefinition) *schema.ToolInfo {
	desc := def.Description
	if desc == "" {
		desc = def.Name
	}
	return &schema.ToolInfo{
		Name:        def.Name,
		Desc:        desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(def.Params),
		Extra: map[string]any{
			"provider": "mcp",
			"server":   serverID,
		},
	}
}

// OwnerOf returns the server id that owns the tool name. Unknown names and
// duplicate-suppressed declarations have no owner.
func (c *Catalog) OwnerOf(name string) (string, bool) {
	owner, ok := c.owners[name]
	return owner, ok
}

// Tools returns every routable tool, grouped by owning connection in stable
// server-id order and flattened for binding to the model.
func (c *Catalog) Tools() []*schema.ToolInfo {
	var out []*schema.ToolInfo
	for _, id := range c.order {
		out = append(out, c.byServer[id]...)
	}
	return out
}

// ToolsForServer returns only the tools the catalog attributes to the given
// connection, excluding any it lost to an earlier duplicate.
func (c *Catalog) ToolsForServer(id string) []*schema.ToolInfo {
	return append([]*schema.ToolInfo(nil), c.byServer[id]...)
}

// Duplicates returns the suppressed declarations: tool name to the server ids
// whose declaration lost. Kept for diagnostics only.
func (c *Catalog) Duplicates() map[string][]string {
	out := make(map[string][]string, len(c.duplicates))
	for name, ids := range c.duplicates {
		out[name] = append([]string(nil), ids...)
	}
	return out
}

// ToolCount returns the number of routable tools.
func (c *Catalog) ToolCount() int {
	return len(c.owners)
}
