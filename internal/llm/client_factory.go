package llm

import (
	"fmt"
	"time"
)

// ClientConfig is the provider-agnostic configuration a client is built from.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewClient creates a Client for the named provider.
func NewClient(provider string, cfg ClientConfig) (Client, error) {
	switch provider {
	case ProviderGemini:
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			gc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			gc.Timeout = cfg.Timeout
		}
		return NewGeminiClient(gc), nil
	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			ac.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			ac.Timeout = cfg.Timeout
		}
		return NewAnthropicClient(ac), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: %s, %s)", provider, ProviderGemini, ProviderAnthropic)
	}
}
