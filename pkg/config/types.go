package config

import "time"

// Config is the umbrella configuration object loaded from YAML, matching
// spec.md §6's configuration option set. Each nested struct has a
// Default*Config() constructor and its own yaml tags, mirroring
// tarsy/pkg/config's "umbrella struct holding named sub-configs" shape.
type Config struct {
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Budget      BudgetConfig      `yaml:"budget"`
	Retry       RetryConfig       `yaml:"retry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Primary     ModelTargetConfig `yaml:"primary_model"`
	Sub         *ModelTargetConfig `yaml:"sub_model,omitempty"`
}

// RuntimeConfig controls the scheduler's call-tree behavior: depth limits,
// output truncation, and whether deep calls delegate to a cheaper sub-model
// (spec.md §4.3, §4.7).
type RuntimeConfig struct {
	MaxDepth                int `yaml:"max_depth" validate:"min=0"`
	MaxExecutionOutputChars int `yaml:"max_execution_output_chars"`

	SubLLMDelegationEnabled        bool `yaml:"sub_llm_delegation_enabled"`
	SubLLMDelegationDepthThreshold int  `yaml:"sub_llm_delegation_depth_threshold"`

	EventBufferCapacity int `yaml:"event_buffer_capacity"`
	QueueCapacity       int `yaml:"queue_capacity"`
}

// SandboxConfig controls the sandbox worker subprocess (spec.md §4.2).
type SandboxConfig struct {
	WorkerPath     string        `yaml:"worker_path" validate:"required"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes"`
	Mode           string        `yaml:"mode"` // "permissive" (default) or "strict"
	InitTimeout    time.Duration `yaml:"init_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
}

// BudgetConfig seeds one completion's Budget Manager (spec.md §4.5).
type BudgetConfig struct {
	MaxIterations  int  `yaml:"max_iterations" validate:"min=1"`
	MaxLLMCalls    int  `yaml:"max_llm_calls" validate:"min=1"`
	MaxTotalTokens *int `yaml:"max_total_tokens,omitempty"`
}

// RetryConfig controls the LLM Call Coordinator's backoff between retryable
// model failures (spec.md §4.3).
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

// ConcurrencyConfig bounds how many model calls a completion may have
// in flight at once (spec.md §4.5's permit semaphore).
type ConcurrencyConfig struct {
	MaxConcurrentLLMCalls int `yaml:"max_concurrent_llm_calls" validate:"min=1"`
}

// ModelTargetConfig names a model and its provider endpoint, for the
// reference HTTP LanguageModelClient (pkg/llm).
type ModelTargetConfig struct {
	Model      string `yaml:"model" validate:"required"`
	BaseURL    string `yaml:"base_url" validate:"required"`
	APIKeyEnv  string `yaml:"api_key_env"`
}
