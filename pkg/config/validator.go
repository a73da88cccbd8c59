package config

import "fmt"

// Validate checks a fully-merged Config for the invariants spec.md §6
// requires before a Runtime can be constructed: required fields present,
// numeric fields within sane ranges. It is deliberately small relative to
// tarsy/pkg/config/validator.go — this config surface has no cross-resource
// references (agents, chains, MCP servers) to validate against each other.
func Validate(cfg *Config) error {
	if cfg.Sandbox.WorkerPath == "" {
		return NewValidationError("sandbox", "worker_path", ErrMissingRequiredField)
	}
	if cfg.Primary.Model == "" {
		return NewValidationError("primary_model", "model", ErrMissingRequiredField)
	}
	if cfg.Primary.BaseURL == "" {
		return NewValidationError("primary_model", "base_url", ErrMissingRequiredField)
	}
	if cfg.Sub != nil {
		if cfg.Sub.Model == "" {
			return NewValidationError("sub_model", "model", ErrMissingRequiredField)
		}
		if cfg.Sub.BaseURL == "" {
			return NewValidationError("sub_model", "base_url", ErrMissingRequiredField)
		}
	}
	if cfg.Runtime.MaxDepth < 0 {
		return NewValidationError("runtime", "max_depth", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if cfg.Budget.MaxIterations < 1 {
		return NewValidationError("budget", "max_iterations", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Budget.MaxLLMCalls < 1 {
		return NewValidationError("budget", "max_llm_calls", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Budget.MaxTotalTokens != nil && *cfg.Budget.MaxTotalTokens < 0 {
		return NewValidationError("budget", "max_total_tokens", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if cfg.Retry.MaxAttempts < 1 {
		return NewValidationError("retry", "max_attempts", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Concurrency.MaxConcurrentLLMCalls < 1 {
		return NewValidationError("concurrency", "max_concurrent_llm_calls", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}
