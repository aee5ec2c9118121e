// Package provider builds llm.Provider implementations by name.
package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/gemini"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/ollama"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Gemini    = gemini.Name
	OpenAI    = openai.Name
	Anthropic = anthropic.Name
	Ollama    = ollama.Name
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Gemini, OpenAI, Anthropic, Ollama}
}

// RequiresAPIKey reports whether the provider cannot run without a key.
func RequiresAPIKey(providerType string) bool {
	return providerType != Ollama
}

// Opts configures New.
type Opts struct {
	ProviderType string
	Model        string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration

	// RequestsPerSecond rate limits Generate when positive.
	RequestsPerSecond float64
	Burst             int

	// Limiter replaces RequestsPerSecond and Burst when set. Every provider
	// built with the same Limiter draws from one budget.
	Limiter *rate.Limiter
}

// New creates a Provider for the given type. A key-requiring provider with no
// key returns llm.ErrMissingCredential.
func New(ctx context.Context, o Opts) (llm.Provider, error) {
	if RequiresAPIKey(o.ProviderType) && o.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", llm.ErrMissingCredential, o.ProviderType)
	}

	var (
		p   llm.Provider
		err error
	)
	switch o.ProviderType {
	case Gemini:
		p, err = gemini.New(ctx, gemini.Config{APIKey: o.APIKey, Model: o.Model, BaseURL: o.BaseURL})
	case OpenAI:
		p, err = openai.New(openai.Config{APIKey: o.APIKey, Model: o.Model, BaseURL: o.BaseURL, Timeout: o.Timeout})
	case Anthropic:
		p, err = anthropic.New(anthropic.Config{APIKey: o.APIKey, Model: o.Model, BaseURL: o.BaseURL, Timeout: o.Timeout})
	case Ollama:
		p = ollama.New(ollama.Config{Model: o.Model, BaseURL: o.BaseURL, Timeout: o.Timeout})
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", o.ProviderType, SupportedProviders())
	}
	if err != nil {
		return nil, err
	}

	if o.Limiter != nil {
		return llm.WithLimiter(p, o.Limiter), nil
	}
	return llm.NewRateLimited(p, o.RequestsPerSecond, o.Burst), nil
}
