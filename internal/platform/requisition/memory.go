package requisition

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryAllocator is an in-process Allocator for tests and dev mode. The
// mutex plays the role the database upsert plays in production.
type MemoryAllocator struct {
	mu       sync.Mutex
	prefix   string
	counters map[string]int
	failing  bool
}

func NewMemoryAllocator(prefix string) *MemoryAllocator {
	return &MemoryAllocator{prefix: prefix, counters: make(map[string]int)}
}

// SetFailing makes subsequent calls fail with ErrStorageUnavailable.
func (a *MemoryAllocator) SetFailing(failing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = failing
}

func (a *MemoryAllocator) Allocate(_ context.Context, orgID int64, day time.Time) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing {
		return "", ErrStorageUnavailable
	}
	key := fmt.Sprintf("%d/%s", orgID, day.Format("2006-01-02"))
	a.counters[key]++
	return Format(a.prefix, day, a.counters[key]), nil
}
