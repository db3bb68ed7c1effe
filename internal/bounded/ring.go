package bounded

// Ring is a fixed-capacity append-only sequence. Pushing past capacity
// overwrites the logically oldest slot. Not safe for concurrent use; owners
// hold their own locks.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element once full
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, 0, capacity)}
}

func (r *Ring[T]) Push(item T) {
	if r.size < cap(r.buf) {
		r.buf = append(r.buf, item)
		r.size++
		return
	}
	r.buf[r.head] = item
	r.head = (r.head + 1) % r.size
}

func (r *Ring[T]) Len() int {
	return r.size
}

func (r *Ring[T]) Cap() int {
	return cap(r.buf)
}

// Snapshot returns the held items in chronological order regardless of
// internal wrap state.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%r.size])
	}
	return out
}

// Recent returns the last n items in chronological order, n clamped to the
// held count.
func (r *Ring[T]) Recent(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]T, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%r.size])
	}
	return out
}

func (r *Ring[T]) Clear() {
	r.buf = r.buf[:0]
	r.head = 0
	r.size = 0
}
