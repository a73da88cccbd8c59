// Package llmcoord implements the LLM Call Coordinator (spec.md §4.3):
// reserve budget, acquire a concurrency permit, call the model, record
// token usage, and retry retryable failures with jittered backoff. It has
// no depth logic of its own: sub-model delegation is a choice of which
// Coordinator to call, made by the scheduler's GenerateStep.
//
// Grounded on tarsy/pkg/agent/llm_client.go (ErrorChunk.Retryable, usage
// accounting) and tarsy/pkg/queue/worker.go's jittered sleep
// (math/rand/v2, offset := rand.Int64N(2*jitter), base-jitter+offset).
package llmcoord

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// RetryConfig controls the coordinator's backoff between retryable failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 250 * time.Millisecond
	}
	return c
}

// Coordinator mediates every model call a scheduler makes, whether for a
// call's main REPL loop or a delegated one-shot sub-model answer.
type Coordinator struct {
	client  llm.Client
	budget  *budget.Manager
	retry   RetryConfig
}

// New constructs a Coordinator over client, reserving against budget and
// retrying per retry.
func New(client llm.Client, budgetMgr *budget.Manager, retry RetryConfig) *Coordinator {
	return &Coordinator{client: client, budget: budgetMgr, retry: retry.withDefaults()}
}

// Generate reserves one LLM call against the budget, acquires a concurrency
// permit, and calls the model — retrying retryable ModelCallErrors with
// jittered exponential backoff up to retry.MaxAttempts. A non-retryable
// failure, or exhausting all attempts, returns the last error.
func (c *Coordinator) Generate(ctx context.Context, callID string, req llm.Request) (llm.Response, error) {
	if err := c.budget.ReserveLLMCall(callID); err != nil {
		return llm.Response{}, err
	}

	var resp llm.Response
	var lastErr error
	err := c.budget.WithLLMPermit(ctx, func() error {
		for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
			if attempt > 0 {
				delay := c.computeRetryDelay(attempt)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					lastErr = ctx.Err()
					return lastErr
				}
			}

			var callErr error
			resp, callErr = c.client.Generate(ctx, req)
			if callErr == nil {
				c.budget.RecordTokens(callID, resp.Usage.TotalTokens)
				return nil
			}

			lastErr = callErr
			var modelErr *rlmerr.ModelCallError
			if !errors.As(callErr, &modelErr) || !modelErr.Retryable {
				return callErr
			}
		}
		return fmt.Errorf("llmcoord: exhausted %d attempts: %w", c.retry.MaxAttempts, lastErr)
	})
	if err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

// computeRetryDelay returns a jittered exponential backoff for the given
// retry attempt (1-indexed), capped at retry.MaxDelay.
func (c *Coordinator) computeRetryDelay(attempt int) time.Duration {
	base := c.retry.BaseDelay * time.Duration(1<<uint(attempt-1))
	if base > c.retry.MaxDelay {
		base = c.retry.MaxDelay
	}
	jitter := c.retry.Jitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	delay := base - jitter + offset
	if delay < 0 {
		delay = 0
	}
	return delay
}
