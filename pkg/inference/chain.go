package inference

import (
	"context"
	"errors"
	"log/slog"
)

// Chain tries providers in order until one answers.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// Chat asks each provider in turn and returns the first answer.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var errs []error
	for i, p := range c.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i)
			}
			return resp, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
	}
	return nil, &ChainError{Errors: errs}
}

// Health succeeds when any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return &ChainError{Errors: errs}
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
