package agent

import (
	"context"
	"fmt"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider"
)

// ProviderFactory builds the provider for one exchange from the resolved API
// key, so key changes in runtime settings apply to the next exchange.
type ProviderFactory func(ctx context.Context, apiKey string) (llm.Provider, error)

// KeyResolver resolves a provider API key given the runtime settings key.
// *credentials.Manager implements it.
type KeyResolver interface {
	Resolve(provider, settingsKey string) (key string, source string, err error)
}

// NewProviderFactory returns a factory that builds providers from opts with
// the per-exchange key filled in. All providers it builds share one rate
// limiter, so opts.RequestsPerSecond bounds the process-wide call rate.
func NewProviderFactory(opts provider.Opts) ProviderFactory {
	if opts.Limiter == nil {
		opts.Limiter = llm.NewLimiter(opts.RequestsPerSecond, opts.Burst)
	}
	return func(ctx context.Context, apiKey string) (llm.Provider, error) {
		o := opts
		o.APIKey = apiKey
		p, err := provider.New(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("building %s provider: %w", o.ProviderType, err)
		}
		return p, nil
	}
}

// StaticProvider returns a factory that always yields p.
func StaticProvider(p llm.Provider) ProviderFactory {
	return func(context.Context, string) (llm.Provider, error) {
		return p, nil
	}
}
