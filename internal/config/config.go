// Package config loads and persists the app configuration from
// ~/.pulse/config.yaml, with environment variable expansion for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vitalhq/pulse/internal/chat/health"
	"github.com/vitalhq/pulse/internal/chat/retry"
)

// Config holds the app configuration
type Config struct {
	// Active backend by name; empty means the first configured provider.
	ActiveProvider string `yaml:"active_provider"`

	// Configured AI backends.
	Providers []ProviderConfig `yaml:"providers"`

	// Context building
	TokenBudget int               `yaml:"token_budget"` // max tokens of health context per send
	Categories  []health.Category `yaml:"categories"`   // record categories included in context
	Persona     string            `yaml:"persona"`      // system prompt text

	// Streaming preference; blocking send when false.
	Streaming bool `yaml:"streaming"`

	// Model name patterns that need instructions folded into the first
	// user message instead of a system prompt.
	InjectionPatterns []string `yaml:"injection_patterns,omitempty"`

	// Retry policy for transient send failures.
	Retry retry.Policy `yaml:"retry"`

	// Data directory (~/.pulse)
	DataDir string `yaml:"data_dir"`
}

// ProviderConfig holds configuration for a single AI backend
type ProviderConfig struct {
	Name    string `yaml:"name"`               // Identifier for this provider
	Type    string `yaml:"type"`               // "ollama", "openai", "openai-compatible", "anthropic", "gemini"
	APIKey  string `yaml:"api_key,omitempty"`  // For cloud providers; ${ENV} expanded
	Model   string `yaml:"model,omitempty"`    // Model to use
	BaseURL string `yaml:"base_url,omitempty"` // For ollama / openai-compatible servers
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Name: "ollama", Type: "ollama", Model: "llama3.2", BaseURL: "http://localhost:11434"},
		},
		TokenBudget: 2000,
		Categories: []health.Category{
			health.CategoryPersonalInfo,
			health.CategoryLabResults,
			health.CategoryMedications,
			health.CategoryConditions,
			health.CategoryVitals,
		},
		Persona:   "You are a careful, plain-spoken personal health assistant. Ground every answer in the provided health context and say when you do not know.",
		Streaming: true,
		Retry:     retry.DefaultPolicy(),
		DataDir:   DefaultDataDir(),
	}
}

// DefaultDataDir returns the default data directory (~/.pulse)
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulse"
	}
	return filepath.Join(home, ".pulse")
}

// Load loads config from ~/.pulse/config.yaml, falling back to defaults
// when the file doesn't exist.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	return loadInto(cfg, filepath.Join(cfg.DataDir, "config.yaml"), true)
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	return loadInto(DefaultConfig(), path, false)
}

func loadInto(cfg *Config, path string, missingOK bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if missingOK && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive, got %d", c.TokenBudget)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	if c.ActiveProvider != "" && !seen[c.ActiveProvider] {
		return fmt.Errorf("active_provider %q is not configured", c.ActiveProvider)
	}
	return nil
}

// Save saves the config to <data dir>/config.yaml
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(c.DataDir, "config.yaml"), data, 0600)
}

// ConfigPath returns the path of the config file for this data dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// DBPath returns the path to the SQLite database
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data", "pulse.db")
}

// GetProvider returns the provider config by name, or nil if not found
func (c *Config) GetProvider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
