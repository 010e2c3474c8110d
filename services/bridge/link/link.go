// Package link is the framing spoken on the bridge serial link.
//
// Every frame is a 3-byte header (type, length high, length low), length
// payload bytes and a CRC-16/CCITT-FALSE over header and payload. Command and Reply frames carry SDI-12 transactions:
//
//	Command: seq(2) flags(1) timeout_ms(2) bus 0x00 command
//	Reply:   seq(2) flags(1) code 0x00 response
//
// Multi-byte integers are big-endian.
package link

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/sigurn/crc16"

	"sdi12-go/errcode"
)

// Frame types.
const (
	Ping    byte = 0x01
	Pong    byte = 0x02
	Command byte = 0x20
	Reply   byte = 0x21
	Close   byte = 0x7f
)

// MaxPayload bounds a frame's payload. Commands and replies stay well under
// it; a larger length in a header means the stream is out of step.
const MaxPayload = 512

const (
	headerLen = 3
	crcLen    = 2
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Frame is one length-prefixed frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// -----------------------------------------------------------------------------
// Reader / Writer
// -----------------------------------------------------------------------------

type Reader struct{ r io.Reader }

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// ReadFrame blocks for one complete frame. A checksum mismatch means the
// stream is out of step; callers should drop the link.
func (fr *Reader) ReadFrame() (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[1:]))
	if n > MaxPayload {
		return Frame{}, &errcode.E{C: errcode.InvalidPayload, Op: "link.ReadFrame", Msg: "frame too long"}
	}
	buf := make([]byte, headerLen+n+crcLen)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(fr.r, buf[headerLen:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	body := buf[:headerLen+n]
	if crc16.Checksum(body, crcTable) != binary.BigEndian.Uint16(buf[headerLen+n:]) {
		return Frame{}, &errcode.E{C: errcode.InvalidPayload, Op: "link.ReadFrame", Msg: "crc mismatch"}
	}
	f := Frame{Type: hdr[0]}
	if n > 0 {
		f.Payload = body[headerLen:]
	}
	return f, nil
}

// Writer serialises frames from several goroutines. Each frame goes out in
// a single Write.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (fw *Writer) WriteFrame(f Frame) error {
	if len(f.Payload) > MaxPayload {
		return &errcode.E{C: errcode.InvalidParams, Op: "link.WriteFrame", Msg: "payload too large"}
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.buf = append(fw.buf[:0], f.Type, 0, 0)
	binary.BigEndian.PutUint16(fw.buf[1:], uint16(len(f.Payload)))
	fw.buf = append(fw.buf, f.Payload...)
	fw.buf = binary.BigEndian.AppendUint16(fw.buf, crc16.Checksum(fw.buf, crcTable))
	_, err := fw.w.Write(fw.buf)
	return err
}

// -----------------------------------------------------------------------------
// Command / Reply payloads
// -----------------------------------------------------------------------------

const (
	flagNoWake   = 1 << 0
	flagRaw      = 1 << 1
	flagOverflow = 1 << 0
)

// CommandMsg asks the far end's bus Bus to run Command.
type CommandMsg struct {
	Seq       uint16
	Bus       string
	Command   string
	NoWake    bool
	Raw       bool
	TimeoutMs uint16 // 0 selects the bus default
}

// ReplyMsg answers the CommandMsg with the same Seq. Code is errcode.OK on
// success.
type ReplyMsg struct {
	Seq      uint16
	Code     errcode.Code
	Response string
	Overflow bool
}

func EncodeCommand(c CommandMsg) Frame {
	p := make([]byte, 5, 5+len(c.Bus)+1+len(c.Command))
	binary.BigEndian.PutUint16(p[0:], c.Seq)
	if c.NoWake {
		p[2] |= flagNoWake
	}
	if c.Raw {
		p[2] |= flagRaw
	}
	binary.BigEndian.PutUint16(p[3:], c.TimeoutMs)
	p = append(p, c.Bus...)
	p = append(p, 0)
	p = append(p, c.Command...)
	return Frame{Type: Command, Payload: p}
}

func DecodeCommand(f Frame) (CommandMsg, error) {
	if f.Type != Command || len(f.Payload) < 6 {
		return CommandMsg{}, malformed("link.DecodeCommand")
	}
	p := f.Payload
	bus, cmd, ok := splitNul(p[5:])
	if !ok {
		return CommandMsg{}, malformed("link.DecodeCommand")
	}
	return CommandMsg{
		Seq:       binary.BigEndian.Uint16(p[0:]),
		NoWake:    p[2]&flagNoWake != 0,
		Raw:       p[2]&flagRaw != 0,
		TimeoutMs: binary.BigEndian.Uint16(p[3:]),
		Bus:       bus,
		Command:   cmd,
	}, nil
}

func EncodeReply(r ReplyMsg) Frame {
	code := r.Code
	if code == "" {
		code = errcode.OK
	}
	p := make([]byte, 3, 3+len(code)+1+len(r.Response))
	binary.BigEndian.PutUint16(p[0:], r.Seq)
	if r.Overflow {
		p[2] |= flagOverflow
	}
	p = append(p, code...)
	p = append(p, 0)
	p = append(p, r.Response...)
	return Frame{Type: Reply, Payload: p}
}

func DecodeReply(f Frame) (ReplyMsg, error) {
	if f.Type != Reply || len(f.Payload) < 4 {
		return ReplyMsg{}, malformed("link.DecodeReply")
	}
	p := f.Payload
	code, resp, ok := splitNul(p[3:])
	if !ok {
		return ReplyMsg{}, malformed("link.DecodeReply")
	}
	return ReplyMsg{
		Seq:      binary.BigEndian.Uint16(p[0:]),
		Overflow: p[2]&flagOverflow != 0,
		Code:     errcode.Code(code),
		Response: resp,
	}, nil
}

func splitNul(p []byte) (head, tail string, ok bool) {
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		return "", "", false
	}
	return string(p[:i]), string(p[i+1:]), true
}

func malformed(op string) error {
	return &errcode.E{C: errcode.InvalidPayload, Op: op, Msg: "malformed frame"}
}
