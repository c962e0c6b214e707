// Package queue provides the bounded in-memory batching queues that sit
// between the event handlers and the persistence gateway.
package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ingest_queue_depth",
	Help: "The current depth of an ingest queue",
}, []string{"queue"})

var queueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_queue_dropped_total",
	Help: "The number of items evicted from a full ingest queue, oldest first",
}, []string{"queue"})

// Bounded is a FIFO queue with a hard capacity. When full, Push evicts the
// oldest item so the event-ingestion path never blocks. All methods are safe
// for concurrent use.
type Bounded[T any] struct {
	name string
	cap  int

	mu    sync.Mutex
	items []T
}

// NewBounded creates a queue with the given capacity. The name labels the
// queue's metrics.
func NewBounded[T any](name string, capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		name:  name,
		cap:   capacity,
		items: make([]T, 0, capacity),
	}
}

// Push appends an item, evicting the oldest when the queue is at capacity.
// Returns true when an eviction occurred.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.items) >= q.cap {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		dropped = true
		queueDropped.WithLabelValues(q.name).Inc()
	}
	q.items = append(q.items, item)
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.items)))
	return dropped
}

// PopBatch removes and returns up to n items from the head of the queue.
func (q *Bounded[T]) PopBatch(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]T, n)
	copy(batch, q.items[:n])
	remaining := copy(q.items, q.items[n:])
	// Clear the vacated tail so evicted pointers don't pin memory.
	var zero T
	for i := remaining; i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = q.items[:remaining]
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.items)))
	return batch
}

// Len returns the current queue depth.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
