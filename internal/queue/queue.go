// Package queue provides the FIFO containers used for pending exchange requests.
package queue

// Queue defines the interface for a FIFO queue of T.
//
// Implementations are not goroutine-safe; callers guard them with their own lock.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false when the queue is empty.
	Dequeue() (item T, ok bool)
	// Drain removes and returns every queued item in FIFO order.
	Drain() []T
}
