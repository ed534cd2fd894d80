package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lukahq/dialogcore/pkg/models"
)

// RetryPolicy bounds save retries.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Backoff is the initial delay between tries, doubled each time.
	Backoff time.Duration

	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy matches the durability expectations of a turn save:
// a couple of quick retries, then surface the failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
	}
}

// SaveWithRetry saves a snapshot, retrying transient failures with
// exponential backoff. The final error is returned unmasked; a failed save
// is never reported as success.
func SaveWithRetry(ctx context.Context, store Store, threadID string, state *models.ConversationState, policy RetryPolicy, logger *slog.Logger) error {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	backoff := policy.Backoff
	var lastErr error

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		lastErr = store.Save(ctx, threadID, state)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("checkpoint save %s: %w", threadID, lastErr)
		}
		if attempt == policy.Attempts {
			break
		}

		logger.Warn("checkpoint save failed, retrying",
			"thread_id", threadID,
			"attempt", attempt,
			"error", lastErr)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("checkpoint save %s: %w", threadID, lastErr)
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return fmt.Errorf("checkpoint save %s after %d attempts: %w", threadID, policy.Attempts, lastErr)
}
