package backend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// RetryingInferenceClient wraps an InferenceClient with an exponential
// backoff-and-jitter retry policy over transient, retryable backend
// failures, replacing the teacher's hand-rolled RetryExecutor/RetryPolicy
// (internal/application/executor/retry.go: InitialDelay, MaxDelay,
// Multiplier, Jitter) with cenkalti/backoff/v4's equivalent
// ExponentialBackOff, per spec.md §4's failure semantics for transient
// backend errors. Non-retryable errors (bad prompts, parse failures) pass
// through on the first attempt, same as the teacher's isRetryable gate.
type RetryingInferenceClient struct {
	inner      *InferenceClient
	maxRetries int
}

// NewRetryingInferenceClient wraps inner with up to maxRetries retries.
func NewRetryingInferenceClient(inner *InferenceClient, maxRetries int) *RetryingInferenceClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryingInferenceClient{inner: inner, maxRetries: maxRetries}
}

// Generate implements orchestrator.InferenceBackend.
func (c *RetryingInferenceClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.1 // matches the teacher's 10% jitter

	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	var out string
	err := backoff.Retry(func() error {
		result, err := c.inner.Generate(ctx, model, prompt)
		if err != nil {
			if !domain.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = result
		return nil
	}, bounded)

	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return "", perm.Err
		}
		return "", err
	}
	return out, nil
}
