// Package ringbuf provides a fixed-capacity FIFO buffer. Once full, each Push
// evicts the oldest element.
package ringbuf

// Buffer is not safe for concurrent use; owners guard it with their own lock.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New returns a buffer holding at most capacity elements. A capacity below 1
// is raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int { return b.size }
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element in chronological order (0 is the oldest).
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ringbuf: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest element.
func (b *Buffer[T]) Last() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Slice copies the contents oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Newest copies up to n elements newest first. n <= 0 means all.
func (b *Buffer[T]) Newest(n int) []T {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.At(b.size - 1 - i)
	}
	return out
}

// Reset drops every element, keeping the capacity.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.head, b.size = 0, 0
}
