// Package providers contains HTTP clients for the upstream model APIs the
// dispatcher routes to. Clients speak their provider's native wire format and
// return responses in the canonical internal shape.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// GenerateRequest is the canonical completion request handed to a Client.
type GenerateRequest struct {
	Messages    []types.Message
	MaxTokens   int
	Temperature *float64
}

// GenerateResponse is the canonical completion result.
type GenerateResponse struct {
	Content      string
	Usage        types.Usage
	CostUSD      float64
	FinishReason string
}

// Client generates completions against a single configured provider.
type Client interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// NewClient builds a Client for the provider's configured type.
func NewClient(name string, cfg config.ProviderConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch cfg.Type {
	case "openai", "openai-compatible", "":
		return NewOpenAIClient(name, cfg, httpClient), nil
	case "anthropic":
		return NewAnthropicClient(name, cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for %q", cfg.Type, name)
	}
}

// costUSD prices a completion from the provider's per-million-token rate.
func costUSD(cfg config.ProviderConfig, usage types.Usage) float64 {
	return float64(usage.TotalTokens) / 1_000_000 * cfg.CostPerMTok
}
