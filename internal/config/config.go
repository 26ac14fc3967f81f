package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Servers   []ServerConfig  `mapstructure:"servers"`
	Log       LogConfig       `mapstructure:"log"`
}

// AgentConfig default model parameters for the query orchestrator
type AgentConfig struct {
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Claude     ProviderConfig `mapstructure:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek"`
	Ollama     ProviderConfig `mapstructure:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig describes one MCP tool server. The id is opaque and stable:
// it is assigned once when the entry is created and never reused, so
// connection bookkeeping survives renames. Active is the desired state;
// the connection engine only reads these entries, it never creates or
// deletes them.
type ServerConfig struct {
	ID      string            `mapstructure:"id"`
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    string            `mapstructure:"args"`
	Active  bool              `mapstructure:"active"`
	Env     map[string]string `mapstructure:"env"`
}

// ArgList splits the raw argument string on whitespace, dropping empty tokens.
func (s ServerConfig) ArgList() []string {
	return strings.Fields(s.Args)
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:       "anthropic/claude-sonnet-4-5",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Providers: ProvidersConfig{},
		Servers:   []ServerConfig{},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigDir returns the weave config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".weave")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from an explicit path.
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveTo(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("WEAVE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo saves config to an explicit path.
func SaveTo(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	a := &c.Agent

	if a.Temperature < 0 || a.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0 and 2.0, got %f", a.Temperature)
	}
	if a.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be > 0, got %d", a.MaxTokens)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	seen := make(map[string]int, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return fmt.Errorf("servers[%d].id must not be empty", i)
		}
		if prev, dup := seen[s.ID]; dup {
			return fmt.Errorf("servers[%d].id %q duplicates servers[%d]", i, s.ID, prev)
		}
		seen[s.ID] = i
		if strings.TrimSpace(s.Name) == "" {
			s.Name = s.ID
		}
	}

	return nil
}

// ServerByID returns the server entry with the given id.
func (c *Config) ServerByID(id string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// ServerByName returns the first server entry whose name or id matches.
func (c *Config) ServerByName(name string) (ServerConfig, bool) {
	name = strings.TrimSpace(name)
	for _, s := range c.Servers {
		if s.Name == name || s.ID == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}
