package bridge

import (
	"context"
	"io"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// uartPoll is how often an idle UART is rechecked for input.
const uartPoll = 2 * time.Millisecond

// contextReader is implemented by UARTs that can block on receive
// readiness (uartx on RP2).
type contextReader interface {
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// UARTConn turns a drivers.UART into the blocking io.ReadWriteCloser the
// link expects. Close unblocks pending reads with io.EOF; the UART itself
// stays configured.
type UARTConn struct {
	u      drivers.UART
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewUARTConn(u drivers.UART) *UARTConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &UARTConn{u: u, ctx: ctx, cancel: cancel}
}

func (c *UARTConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if cr, ok := c.u.(contextReader); ok {
		n, err := cr.RecvSomeContext(c.ctx, p)
		if err != nil && c.ctx.Err() != nil {
			return n, io.EOF
		}
		return n, err
	}
	for {
		if c.u.Buffered() > 0 {
			if n, err := c.u.Read(p); n > 0 || err != nil {
				return n, err
			}
		}
		select {
		case <-c.ctx.Done():
			return 0, io.EOF
		case <-time.After(uartPoll):
		}
	}
}

func (c *UARTConn) Write(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, io.ErrClosedPipe
	}
	return c.u.Write(p)
}

func (c *UARTConn) Close() error {
	c.once.Do(c.cancel)
	return nil
}
