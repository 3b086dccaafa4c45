package drift

import (
	"sync"

	"github.com/tunogya/fractal/pkg/model"
)

// RingBuffer is a circular buffer of resolved outcomes with fixed capacity
type RingBuffer struct {
	data     []model.Outcome
	capacity int
	size     int
	head     int // points to the next write position
	mu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]model.Outcome, capacity),
		capacity: capacity,
	}
}

// Push adds an outcome to the buffer
// If the buffer is full, the oldest outcome is overwritten
func (rb *RingBuffer) Push(o model.Outcome) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.head] = o
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// Size returns the current number of elements in the buffer
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// ToSlice returns all outcomes in insertion order (oldest first)
func (rb *RingBuffer) ToSlice() []model.Outcome {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]model.Outcome, rb.size)
	start := 0
	if rb.size == rb.capacity {
		start = rb.head
	}
	for i := 0; i < rb.size; i++ {
		result[i] = rb.data[(start+i)%rb.capacity]
	}
	return result
}

// Clear empties the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.size = 0
	rb.head = 0
}
