package team

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimit is returned once a turn used up its model calls.
var ErrCallLimit = errors.New("model call limit reached")

// CallLimiter caps the number of model calls within one turn. It is shared by
// the members of a parallel turn.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter allowing max calls. Zero means unlimited.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire reserves one call.
func (l *CallLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: %d", ErrCallLimit, l.max)
	}
	l.count++
	return nil
}

// Count returns the calls reserved so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns the calls left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}
	return l.max - l.count
}
