package retry

import "sync"

// Budget is a shared cap on a countable resource, such as LLM calls spent
// repairing one failure. A nil Budget, or one with a limit <= 0, always grants.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a budget allowing limit takes.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Take consumes one unit and reports whether it was available.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining returns the units left, or -1 when unlimited.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return -1
	}
	return b.limit - b.used
}

// Used returns how many units have been taken.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the configured limit.
func (b *Budget) Limit() int {
	if b == nil {
		return 0
	}
	return b.limit
}
