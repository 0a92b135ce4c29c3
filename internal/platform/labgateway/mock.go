package labgateway

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway records transmitted batches in memory and issues synthetic
// tracking ids. Used by tests and dev mode when no lab service is configured.
type MockGateway struct {
	mu      sync.Mutex
	batches []Batch
	nextID  int
	err     error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// SetError makes subsequent Transmit calls fail with err.
func (g *MockGateway) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Batches returns a copy of everything transmitted so far.
func (g *MockGateway) Batches() []Batch {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Batch, len(g.batches))
	copy(out, g.batches)
	return out
}

func (g *MockGateway) Transmit(_ context.Context, batch Batch) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.nextID++
	g.batches = append(g.batches, batch)
	return fmt.Sprintf("EXT-%06d", g.nextID), nil
}
