// Package hostlink is the host side of the bridge link: it sends Command
// frames to the device and matches Reply frames to them by sequence number.
package hostlink

import (
	"context"
	"io"
	"sync"

	"sdi12-go/errcode"
	"sdi12-go/services/bridge/link"
)

// Client multiplexes commands over one link. It answers device pings.
type Client struct {
	wr *link.Writer

	mu      sync.Mutex
	seq     uint16
	pending map[uint16]chan link.ReplyMsg
	err     error

	pong chan struct{}
	done chan struct{}
}

// NewClient starts reading rw. The client stops when a read fails or the
// device sends Close; the caller still owns rw.
func NewClient(rw io.ReadWriter) *Client {
	c := &Client{
		wr:      link.NewWriter(rw),
		pending: make(map[uint16]chan link.ReplyMsg),
		pong:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop(link.NewReader(rw))
	return c
}

func (c *Client) readLoop(rd *link.Reader) {
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			c.stop(errcode.Wrap(errcode.LinkDown, "hostlink.read", err))
			return
		}
		switch f.Type {
		case link.Ping:
			_ = c.wr.WriteFrame(link.Frame{Type: link.Pong})
		case link.Pong:
			select {
			case c.pong <- struct{}{}:
			default:
			}
		case link.Reply:
			r, err := link.DecodeReply(f)
			if err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[r.Seq]
			delete(c.pending, r.Seq)
			c.mu.Unlock()
			if ok {
				ch <- r
			}
		case link.Close:
			c.stop(&errcode.E{C: errcode.LinkDown, Op: "hostlink.read", Msg: "closed by device"})
			return
		}
	}
}

func (c *Client) stop(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		close(c.done)
	}
	c.mu.Unlock()
}

// Err returns why the client stopped, or nil while it runs.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Do sends cmd (its Seq is assigned here) and waits for the matching reply.
// A reply with a non-OK code is returned as-is together with that code as
// the error.
func (c *Client) Do(ctx context.Context, cmd link.CommandMsg) (link.ReplyMsg, error) {
	ch := make(chan link.ReplyMsg, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return link.ReplyMsg{}, err
	}
	c.seq++
	cmd.Seq = c.seq
	c.pending[cmd.Seq] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, cmd.Seq)
		c.mu.Unlock()
	}
	if err := c.wr.WriteFrame(link.EncodeCommand(cmd)); err != nil {
		forget()
		return link.ReplyMsg{}, err
	}
	select {
	case r := <-ch:
		if r.Code != errcode.OK {
			return r, r.Code
		}
		return r, nil
	case <-c.done:
		forget()
		return link.ReplyMsg{}, c.Err()
	case <-ctx.Done():
		forget()
		return link.ReplyMsg{}, errcode.Wrap(errcode.Timeout, "hostlink.Do", ctx.Err())
	}
}

// Ping checks the device answers.
func (c *Client) Ping(ctx context.Context) error {
	select {
	case <-c.pong:
	default:
	}
	if err := c.wr.WriteFrame(link.Frame{Type: link.Ping}); err != nil {
		return err
	}
	select {
	case <-c.pong:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return errcode.Wrap(errcode.Timeout, "hostlink.Ping", ctx.Err())
	}
}
