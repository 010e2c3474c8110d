package sdi12

import "sync/atomic"

// BufferSize is the capacity of the shared receive buffer.
const BufferSize = 75

// Indices run over twice the capacity so that a full buffer and an empty
// one are distinguishable without sacrificing a slot.
const indexSpan = 2 * BufferSize

// RxBuffer is a single-producer, single-consumer byte FIFO filled from the
// pin interrupt and drained from normal context. When full, new bytes are
// dropped and the sticky overflow flag is set; buffered bytes are kept.
type RxBuffer struct {
	buf      [BufferSize]byte
	head     atomic.Uint32 // next slot to fill (producer)
	tail     atomic.Uint32 // next slot to read (consumer)
	overflow atomic.Bool
	readable chan struct{} // coalesced "data arrived" signal
}

// NewRxBuffer returns an empty buffer.
func NewRxBuffer() *RxBuffer {
	return &RxBuffer{readable: make(chan struct{}, 1)}
}

func used(head, tail uint32) int {
	return int((head + indexSpan - tail) % indexSpan)
}

func advance(i uint32) uint32 {
	i++
	if i == indexSpan {
		return 0
	}
	return i
}

// Put appends c. It returns false, and sets the overflow flag, if the buffer
// is full. Safe to call from the ISR.
func (r *RxBuffer) Put(c byte) bool {
	h, t := r.head.Load(), r.tail.Load()
	if used(h, t) == BufferSize {
		r.overflow.Store(true)
		return false
	}
	r.buf[h%BufferSize] = c
	r.head.Store(advance(h))
	select {
	case r.readable <- struct{}{}:
	default:
	}
	return true
}

// Get removes and returns the oldest byte.
func (r *RxBuffer) Get() (byte, bool) {
	h, t := r.head.Load(), r.tail.Load()
	if h == t {
		return 0, false
	}
	c := r.buf[t%BufferSize]
	r.tail.Store(advance(t))
	return c, true
}

// Peek returns the oldest byte without removing it.
func (r *RxBuffer) Peek() (byte, bool) {
	h, t := r.head.Load(), r.tail.Load()
	if h == t {
		return 0, false
	}
	return r.buf[t%BufferSize], true
}

// Used returns the number of buffered bytes.
func (r *RxBuffer) Used() int { return used(r.head.Load(), r.tail.Load()) }

// Free returns the remaining capacity.
func (r *RxBuffer) Free() int { return BufferSize - r.Used() }

// Overflowed reports whether a byte was dropped since the last Clear.
func (r *RxBuffer) Overflowed() bool { return r.overflow.Load() }

// Clear empties the buffer and resets the overflow flag. The producer must
// be quiescent (interrupts masked) while it runs.
func (r *RxBuffer) Clear() {
	r.tail.Store(0)
	r.head.Store(0)
	r.overflow.Store(false)
	select {
	case <-r.readable:
	default:
	}
}

// Readable is signalled (coalesced) whenever a byte is stored.
func (r *RxBuffer) Readable() <-chan struct{} { return r.readable }
