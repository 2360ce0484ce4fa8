// Package buffer provides a fixed-capacity circular buffer.
package buffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a thread-safe circular buffer. Backing storage grows on
// demand up to the capacity, so a large mostly-empty buffer stays cheap.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer[T]{
		data:     make([]T, 0, min(capacity, 4096)),
		capacity: int64(capacity),
	}
}

// store writes v at the head. Callers hold rb.mu.
func (rb *RingBuffer[T]) store(v T) {
	idx := rb.head % rb.capacity
	if idx == int64(len(rb.data)) {
		rb.data = append(rb.data, v)
	} else {
		rb.data[idx] = v
	}
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// PushOverwrite adds v to the buffer, overwriting the oldest element if
// full. Returns true if an element was overwritten.
func (rb *RingBuffer[T]) PushOverwrite(v T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	overwritten := false
	if rb.count >= rb.capacity {
		// Overwrite oldest
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
		overwritten = true
	}

	rb.store(v)
	return overwritten
}

// PopN removes and returns up to n oldest elements.
func (rb *RingBuffer[T]) PopN(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 || n <= 0 {
		return nil
	}

	count := min(int64(n), rb.count)

	var zero T
	result := make([]T, count)
	for i := int64(0); i < count; i++ {
		idx := (rb.tail + i) % rb.capacity
		result[i] = rb.data[idx]
		rb.data[idx] = zero
	}

	rb.tail += count
	rb.count -= count
	rb.popCount.Add(count)

	return result
}

// At returns the i-th oldest element.
func (rb *RingBuffer[T]) At(i int) (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if i < 0 || int64(i) >= rb.count {
		var zero T
		return zero, false
	}
	return rb.data[(rb.tail+int64(i))%rb.capacity], true
}

// Range copies up to n elements starting at the i-th oldest into a new
// slice. Out-of-range parts are clipped.
func (rb *RingBuffer[T]) Range(i, n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	start := max(int64(i), 0)
	end := min(int64(i)+int64(n), rb.count)
	if start >= end {
		return nil
	}

	result := make([]T, end-start)
	for j := range result {
		result[j] = rb.data[(rb.tail+start+int64(j))%rb.capacity]
	}
	return result
}

// Snapshot copies all elements, oldest first.
func (rb *RingBuffer[T]) Snapshot() []T {
	return rb.Range(0, rb.Cap())
}

// Len returns the current number of elements in the buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.capacity)
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer[T]) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer[T]) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Clear removes all elements from the buffer.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Clear all data for GC
	clear(rb.data)
	rb.data = rb.data[:0]

	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer[T]) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
