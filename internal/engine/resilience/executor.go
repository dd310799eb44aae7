package resilience

import (
	"context"

	"hooksync/internal/platform/config"
)

// Executor runs outbound calls with retries, each attempt passing through the
// service's breaker.
type Executor struct {
	registry *Registry
	policy   RetryPolicy
}

func NewExecutor(registry *Registry, policy RetryPolicy) *Executor {
	return &Executor{registry: registry, policy: policy}
}

// FromConfig builds the retry policy and breaker settings from configuration.
func FromConfig(cfg config.ResilienceConfig) (RetryPolicy, BreakerConfig) {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}

	breaker := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		breaker.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold > 0 {
		breaker.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.Cooldown > 0 {
		breaker.Cooldown = cfg.Cooldown
	}
	return policy, breaker
}

func (e *Executor) Registry() *Registry { return e.registry }

func (e *Executor) Do(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	breaker := e.registry.Get(service)
	return ExecuteWithRetry(ctx, e.policy, func(ctx context.Context) error {
		return breaker.Execute(ctx, fn)
	})
}
