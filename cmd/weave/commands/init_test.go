package commands

import (
	"os"
	"strings"
	"testing"

	"github.com/wvrzel/weave/internal/config"
)

func TestInitCommand_CreatesConfig(t *testing.T) {
	prepareHome(t)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit error: %v", err)
	}

	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected config file at %s: %v", configPath, err)
	}
}

func TestInitCommand_DoesNotOverwriteExisting(t *testing.T) {
	prepareHome(t)

	cfg := config.DefaultConfig()
	cfg.Agent.Model = "custom/model"
	if err := config.Save(cfg); err != nil {
		t.Fatalf("config.Save: %v", err)
	}

	output := captureOutput(t, func() {
		if err := runInit(nil, nil); err != nil {
			t.Fatalf("runInit error: %v", err)
		}
	})
	if !strings.Contains(output, "already exists") {
		t.Fatalf("expected existing-config notice, got: %s", output)
	}

	loaded, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if loaded.Agent.Model != "custom/model" {
		t.Fatalf("init must not overwrite existing config, got %q", loaded.Agent.Model)
	}
}
