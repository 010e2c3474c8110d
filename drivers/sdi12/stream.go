package sdi12

import (
	"context"
	"time"
)

// Reads drain the registry's shared buffer, so every enabled bus sees the
// same bytes. Each read first completes a character the active bus may have
// left pending at the end of a reply.

func (b *Bus) settle() *RxBuffer {
	if b.rx == nil {
		return nil
	}
	b.reg.completeStale()
	return b.rx
}

// Available returns the number of buffered characters.
func (b *Bus) Available() int {
	rx := b.settle()
	if rx == nil {
		return 0
	}
	return rx.Used()
}

// Buffered is Available, for drivers.UART.
func (b *Bus) Buffered() int { return b.Available() }

// PeekByte returns the next character without consuming it.
func (b *Bus) PeekByte() (byte, error) {
	rx := b.settle()
	if rx == nil {
		return 0, ErrBufferEmpty
	}
	c, ok := rx.Peek()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return c, nil
}

// ReadByte consumes the next character.
func (b *Bus) ReadByte() (byte, error) {
	rx := b.settle()
	if rx == nil {
		return 0, ErrBufferEmpty
	}
	c, ok := rx.Get()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return c, nil
}

// Read copies buffered characters into p. It never blocks and returns
// 0, nil when nothing is buffered.
func (b *Bus) Read(p []byte) (int, error) {
	rx := b.settle()
	if rx == nil {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		c, ok := rx.Get()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	return n, nil
}

// ClearBuffer discards everything buffered. The buffer is shared, so the
// overflow flag of every bus in the registry is cleared with it.
func (b *Bus) ClearBuffer() {
	if b.rx == nil {
		b.overflow.Store(false)
		return
	}
	b.reg.clear()
}

// Overflow reports whether a character was dropped since the last
// ClearBuffer.
func (b *Bus) Overflow() bool {
	return b.overflow.Load() || (b.rx != nil && b.rx.Overflowed())
}

// Flush is a no-op; writes are complete when they return.
func (b *Bus) Flush() error { return nil }

// pollInterval bounds how long a waiter sleeps between stale checks: about
// two characters, so a reply's last character is seen promptly.
func pollInterval() time.Duration {
	return 2 * time.Duration(CharMicros) * time.Microsecond
}

// waitReadable blocks until data may have arrived, deadline passes or ctx
// ends. It returns false once the deadline or ctx is done.
func (b *Bus) waitReadable(ctx context.Context, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	d := pollInterval()
	if remaining < d {
		d = remaining
	}
	t := time.NewTimer(d)
	defer t.Stop()
	var readable <-chan struct{}
	if b.rx != nil {
		readable = b.rx.Readable()
	}
	select {
	case <-readable:
	case <-t.C:
	case <-ctx.Done():
		return false
	}
	return true
}

// ReadByteContext waits for the next character until ctx is done.
func (b *Bus) ReadByteContext(ctx context.Context) (byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(24 * time.Hour)
	}
	for {
		if c, err := b.ReadByte(); err == nil {
			return c, nil
		}
		if !b.waitReadable(ctx, deadline) {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return 0, context.DeadlineExceeded
		}
	}
}
