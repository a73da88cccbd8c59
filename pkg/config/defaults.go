package config

import "time"

// DefaultRuntimeConfig returns the scheduler defaults spec.md §9 assumes
// when a value is not configured: unbounded recursion is never the
// default, so MaxDepth is conservative.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxDepth:                5,
		MaxExecutionOutputChars: 8000,
		EventBufferCapacity:     4096,
		QueueCapacity:           1024,
	}
}

// DefaultSandboxConfig returns the sandbox worker subprocess defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		WorkerPath:     "rlm-sandbox-worker",
		MaxOutputBytes: 1 << 20,
		Mode:           "permissive",
		InitTimeout:    5 * time.Second,
		ShutdownGrace:  2 * time.Second,
		ToolTimeout:    30 * time.Second,
	}
}

// DefaultBudgetConfig returns a completion's starting budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxIterations: 20,
		MaxLLMCalls:   50,
	}
}

// DefaultRetryConfig returns the LLM Call Coordinator's backoff defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// DefaultConcurrencyConfig returns the default LLM call concurrency cap.
func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{MaxConcurrentLLMCalls: 4}
}

// DefaultConfig returns a complete Config with every sub-config at its
// default except Primary, which has no sane default model or endpoint and
// must be set by the caller (validated by Validate).
func DefaultConfig() Config {
	return Config{
		Runtime:     DefaultRuntimeConfig(),
		Sandbox:     DefaultSandboxConfig(),
		Budget:      DefaultBudgetConfig(),
		Retry:       DefaultRetryConfig(),
		Concurrency: DefaultConcurrencyConfig(),
	}
}
