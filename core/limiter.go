package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelCallLimit is wrapped by ModelLimiter.Acquire once the run has used
// up its model-call budget.
var ErrModelCallLimit = errors.New("model call limit exceeded")

// ModelLimiter caps the number of model calls within a single run. It is
// shared by every worker of that run.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a limiter; max <= 0 means unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Acquire counts one call and fails once the limit is exceeded.
func (ml *ModelLimiter) Acquire() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max > 0 && ml.count >= ml.max {
		return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
	}

	ml.count++

	return nil
}

// Count returns the number of calls made so far.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.count
}
