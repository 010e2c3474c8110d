package bridge

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"sdi12-go/services/bridge/link"
)

// fakeUART is a non-blocking drivers.UART over two byte queues.
type fakeUART struct {
	mu sync.Mutex
	rx bytes.Buffer
	tx bytes.Buffer
}

func (f *fakeUART) feed(p []byte) {
	f.mu.Lock()
	f.rx.Write(p)
	f.mu.Unlock()
}

func (f *fakeUART) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rx.Len() == 0 {
		return 0, nil
	}
	return f.rx.Read(p)
}

func (f *fakeUART) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tx.Write(p)
}

func (f *fakeUART) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rx.Len()
}

func encode(f link.Frame) []byte {
	var buf bytes.Buffer
	_ = link.NewWriter(&buf).WriteFrame(f)
	return buf.Bytes()
}

func TestUARTConn_ReadBlocksUntilData(t *testing.T) {
	u := &fakeUART{}
	c := NewUARTConn(u)
	defer c.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		u.feed(encode(link.Frame{Type: link.Ping}))
	}()
	f, err := link.NewReader(c).ReadFrame()
	if err != nil || f.Type != link.Ping {
		t.Fatalf("got %+v %v", f, err)
	}
}

func TestUARTConn_CloseUnblocksRead(t *testing.T) {
	c := NewUARTConn(&fakeUART{})
	done := make(chan error, 1)
	go func() {
		var p [4]byte
		_, err := c.Read(p[:])
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = c.Close()
	_ = c.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatalf("got %v, want EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("read still blocked after Close")
	}
	if _, err := c.Write([]byte{1}); err != io.ErrClosedPipe {
		t.Fatalf("write after close: %v", err)
	}
}

func TestUARTConn_WritePassesThrough(t *testing.T) {
	u := &fakeUART{}
	c := NewUARTConn(u)
	if err := link.NewWriter(c).WriteFrame(link.Frame{Type: link.Pong}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := u.tx.Bytes(); !bytes.Equal(got, encode(link.Frame{Type: link.Pong})) {
		t.Fatalf("tx: % x", got)
	}
}
