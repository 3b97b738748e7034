package generator

import (
	"context"
	"sync"

	"github.com/nvandessel/pathsim/internal/models"
)

// Batch is the set of circuits one generator iteration accepted.
type Batch struct {
	Order     *models.Order
	Iteration int
	Circuits  []models.Circuit
}

// Sink receives every batch, including empty ones. Returning an error aborts
// the order.
type Sink interface {
	Deliver(ctx context.Context, b Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b Batch) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, b Batch) error {
	return f(ctx, b)
}

// CountingSink tallies delivered circuits per order. It is safe for
// concurrent use.
type CountingSink struct {
	mu      sync.Mutex
	byOrder map[int]int
	batches int
	total   int
}

// NewCountingSink creates an empty counter.
func NewCountingSink() *CountingSink {
	return &CountingSink{byOrder: make(map[int]int)}
}

// Deliver implements Sink.
func (s *CountingSink) Deliver(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byOrder[b.Order.Index] += len(b.Circuits)
	s.batches++
	s.total += len(b.Circuits)
	return nil
}

// Count returns the circuits delivered for one order.
func (s *CountingSink) Count(order int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOrder[order]
}

// Total returns the circuits delivered across all orders.
func (s *CountingSink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Batches returns the number of batches delivered.
func (s *CountingSink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// CollectingSink keeps every delivered circuit in delivery order.
type CollectingSink struct {
	mu       sync.Mutex
	circuits []models.Circuit
}

// Deliver implements Sink.
func (s *CollectingSink) Deliver(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuits = append(s.circuits, b.Circuits...)
	return nil
}

// Circuits returns a copy of everything delivered so far.
func (s *CollectingSink) Circuits() []models.Circuit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Circuit(nil), s.circuits...)
}
