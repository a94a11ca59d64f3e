package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalhq/pulse/internal/chat/ai"
	"github.com/vitalhq/pulse/internal/config"
)

// buildProviders creates the provider registry from configuration.
func buildProviders(cfg *config.Config) (*ai.Registry, error) {
	registry := ai.NewRegistry()

	for _, p := range cfg.Providers {
		switch p.Type {
		case "ollama":
			registry.Register(ai.NewOllamaProvider(p.BaseURL, p.Model))
		case "openai":
			registry.Register(ai.NewOpenAIProvider(p.APIKey, p.Model))
		case "openai-compatible":
			registry.Register(ai.NewOpenAICompatibleProvider(p.BaseURL, p.APIKey, p.Model))
		case "anthropic":
			registry.Register(ai.NewAnthropicProvider(p.APIKey, p.Model))
		case "gemini":
			registry.Register(ai.NewGeminiProvider(p.APIKey, p.Model))
		default:
			return nil, fmt.Errorf("unknown provider type %q for %q", p.Type, p.Name)
		}
	}

	if len(registry.IDs()) == 0 {
		return nil, fmt.Errorf("no providers configured (edit %s)", cfg.ConfigPath())
	}
	if cfg.ActiveProvider != "" {
		if err := registry.SetActive(cfg.ActiveProvider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured AI backends and check reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			active, _ := a.registry.Active()
			for _, id := range a.registry.IDs() {
				p, _ := a.registry.Get(id)

				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				reachable := p.TestConnection(ctx)
				cancel()

				status := "unreachable"
				if reachable {
					status = "ok"
				}
				marker := " "
				if active != nil && active.ID() == id {
					marker = "*"
				}
				fmt.Printf("  %s %-20s model=%-30s %s\n", marker, id, p.Model(), status)
			}
			return nil
		},
	}
}
