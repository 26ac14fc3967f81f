package commands

import (
	"strings"
	"testing"

	"github.com/wvrzel/weave/internal/config"
)

func TestServersAdd_CreatesEntryWithStableID(t *testing.T) {
	prepareHome(t)

	err := runServersAdd([]string{"files", "mcp-files", "--root", "/tmp"}, []string{"DEBUG=1"}, false)
	if err != nil {
		t.Fatalf("runServersAdd: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected one server, got %d", len(cfg.Servers))
	}
	s := cfg.Servers[0]
	if s.ID == "" || s.ID == s.Name {
		t.Fatalf("expected generated opaque id, got %q", s.ID)
	}
	if s.Name != "files" || s.Command != "mcp-files" || !s.Active {
		t.Fatalf("unexpected entry: %+v", s)
	}
	if got := s.ArgList(); len(got) != 2 || got[0] != "--root" {
		t.Fatalf("unexpected args: %v", got)
	}
	if s.Env["DEBUG"] != "1" {
		t.Fatalf("expected env captured, got %v", s.Env)
	}
}

func TestServersAdd_RejectsDuplicateName(t *testing.T) {
	prepareHome(t)

	if err := runServersAdd([]string{"files", "mcp-files"}, nil, false); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := runServersAdd([]string{"files", "other-command"}, nil, false); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestServersAdd_RejectsMalformedEnv(t *testing.T) {
	prepareHome(t)

	if err := runServersAdd([]string{"files", "mcp-files"}, []string{"NOEQUALS"}, false); err == nil {
		t.Fatal("expected malformed env rejection")
	}
}

func TestServersRemove_DeletesEntry(t *testing.T) {
	prepareHome(t)

	if err := runServersAdd([]string{"files", "mcp-files"}, nil, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := runServersRemove(nil, []string{"files"}); err != nil {
		t.Fatalf("runServersRemove: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Fatalf("expected empty server list, got %+v", cfg.Servers)
	}
}

func TestServersRemove_UnknownName(t *testing.T) {
	prepareHome(t)

	if err := runServersRemove(nil, []string{"ghost"}); err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestServersEnableDisable_TogglesActiveKeepingID(t *testing.T) {
	prepareHome(t)

	if err := runServersAdd([]string{"files", "mcp-files"}, nil, true); err != nil {
		t.Fatalf("add: %v", err)
	}

	cfg, _ := config.Load()
	originalID := cfg.Servers[0].ID
	if cfg.Servers[0].Active {
		t.Fatal("expected --disabled entry to start inactive")
	}

	if err := setServerActive("files", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	cfg, _ = config.Load()
	if !cfg.Servers[0].Active {
		t.Fatal("expected server enabled")
	}
	if cfg.Servers[0].ID != originalID {
		t.Fatalf("id must survive toggling, got %q want %q", cfg.Servers[0].ID, originalID)
	}

	if err := setServerActive("files", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	cfg, _ = config.Load()
	if cfg.Servers[0].Active {
		t.Fatal("expected server disabled")
	}
}

func TestServersList_ShowsEntries(t *testing.T) {
	prepareHome(t)

	if err := runServersAdd([]string{"files", "mcp-files", "--root", "/tmp"}, nil, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	output := captureOutput(t, func() {
		if err := runServersList(nil, nil); err != nil {
			t.Fatalf("runServersList: %v", err)
		}
	})
	if !strings.Contains(output, "files [active]") {
		t.Fatalf("expected entry in listing, got: %s", output)
	}
	if !strings.Contains(output, "mcp-files --root /tmp") {
		t.Fatalf("expected command line in listing, got: %s", output)
	}
}
