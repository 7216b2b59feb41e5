package provider

import (
	"fmt"
	"net/http"
	"time"
)

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// ProviderConfig mirrors config.ProviderConfig to avoid circular imports.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
	Timeout time.Duration
}

// FromConfig creates a Provider from a config entry. The api field selects
// the wire format:
//   - "openai-completions" (default): OpenAI-compatible endpoints
//   - "anthropic-messages": Anthropic Messages API
func FromConfig(cfg ProviderConfig) (Provider, error) {
	var client *http.Client
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	switch cfg.API {
	case APIOpenAI, "":
		var opts []OpenAIOption
		if client != nil {
			opts = append(opts, WithOpenAIHTTPClient(client))
		}
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, opts...), nil
	case APIAnthropic:
		var opts []AnthropicOption
		if client != nil {
			opts = append(opts, WithAnthropicHTTPClient(client))
		}
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic)
	}
}

// NewRegistryFromConfig builds every configured provider into a Registry.
func NewRegistryFromConfig(cfgs []ProviderConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, c := range cfgs {
		p, err := FromConfig(c)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
