// Package failover sends completions to a primary model and moves down a
// list of fallback models when a provider is rate limited, rejects its
// credentials or is unavailable.
package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/provider"
)

// Controller is a provider.Provider over an ordered list of models.
type Controller struct {
	registry  *provider.Registry
	cooldowns *CooldownTracker
	models    []provider.ModelRef
	logger    zerolog.Logger
	now       func() time.Time
}

// NewController checks that every model resolves to a registered provider.
// Duplicate refs are tried once.
func NewController(
	registry *provider.Registry,
	cooldowns *CooldownTracker,
	primary provider.ModelRef,
	fallbacks []provider.ModelRef,
	logger zerolog.Logger,
) (*Controller, error) {
	if cooldowns == nil {
		cooldowns = NewCooldownTracker(DefaultCooldownConfig())
	}
	var models []provider.ModelRef
	seen := make(map[provider.ModelRef]bool)
	for _, m := range append([]provider.ModelRef{primary}, fallbacks...) {
		if seen[m] {
			continue
		}
		seen[m] = true
		if _, _, err := registry.Resolve(m); err != nil {
			return nil, fmt.Errorf("failover: %w", err)
		}
		models = append(models, m)
	}
	return &Controller{
		registry:  registry,
		cooldowns: cooldowns,
		models:    models,
		logger:    logger.With().Str("component", "failover").Logger(),
		now:       time.Now,
	}, nil
}

// ID names the primary model.
func (c *Controller) ID() string { return c.models[0].String() }

// Complete tries each model in order. req.Model is overwritten per attempt
// and restored before returning.
func (c *Controller) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	orig := req.Model
	defer func() { req.Model = orig }()

	var (
		attempted []string
		lastErr   error
	)
	for _, m := range c.models {
		if c.cooldowns.InCooldown(m.Provider(), c.now()) {
			c.logger.Debug().Str("model", m.String()).Msg("provider cooling down, skipping")
			continue
		}
		attempted = append(attempted, m.String())

		p, model, err := c.registry.Resolve(m)
		if err != nil {
			return nil, err
		}
		req.Model = model
		resp, err := p.Complete(ctx, req)
		if err == nil {
			c.cooldowns.Reset(m.Provider())
			return resp, nil
		}
		lastErr = err

		if IsRateLimitError(err) || IsAuthError(err) {
			until := c.cooldowns.PutInCooldown(m.Provider(), c.now())
			c.logger.Warn().Err(err).Str("model", m.String()).Time("until", until).Msg("provider benched")
		}
		if !IsRetryable(err) {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("model", m.String()).Msg("model failed, trying next")
	}
	return nil, &AllExhaustedError{Attempted: attempted, Last: lastErr}
}
