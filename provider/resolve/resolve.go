// Package resolve creates a chat Provider from provider-agnostic
// configuration.
package resolve

import (
	"fmt"

	omniforge "github.com/omniforge/omniforge"
	"github.com/omniforge/omniforge/provider/gemini"
	"github.com/omniforge/omniforge/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	BaseURL  string // required for openai-compat; auto-filled for known providers
}

// knownBaseURLs fills BaseURL for providers with fixed endpoints.
var knownBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"together": "https://api.together.xyz/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// Provider creates an omniforge.Provider from a Config.
func Provider(cfg Config) (omniforge.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.New(cfg.APIKey), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = knownBaseURLs[cfg.Provider]
		}
		return openaicompat.New(cfg.APIKey, base, openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}
