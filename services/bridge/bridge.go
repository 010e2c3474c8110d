// Package bridge exposes the SDI-12 buses over a serial link to a host.
// Command frames from the host become requests on sdi12/<bus>/cmd and the
// replies go back as Reply frames. See package link for the wire format.
package bridge

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"sdi12-go/bus"
	"sdi12-go/errcode"
	"sdi12-go/services/bridge/link"
	"sdi12-go/types"
	"sdi12-go/x/conv"
	"sdi12-go/x/jsonx"
	"sdi12-go/x/timex"
)

var (
	topicConfig = bus.T("config", "bridge")
	topicState  = bus.T("bridge", "state")
)

const (
	defaultPingInterval = 5 * time.Second
	missedPings         = 3
	// Upper bound on waiting for the sdi12 service beyond the command's own
	// response timeout.
	replySlack = 2 * time.Second
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge until ctx is cancelled. It waits for JSON config on
// config/bridge and (re)opens the link each time one arrives.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{conn: conn}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on config/bridge.
type Config struct {
	Transport TransportConfig `json:"transport"`
	// PingIntervalMs paces link keepalives; the link is dropped after three
	// unanswered intervals. Zero selects 5 s.
	PingIntervalMs int `json:"ping_interval_ms,omitempty"`
}

type TransportConfig struct {
	// "uart" or a name registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig is handed to UARTDial. Pin numbers are platform GPIO numbers.
type UARTConfig struct {
	Index int `json:"index"` // hardware UART instance
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"`
	TxPin int `json:"tx_pin"`
}

func (c Config) pingInterval() time.Duration {
	if c.PingIntervalMs <= 0 {
		return defaultPingInterval
	}
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection

	mu     sync.Mutex
	curRun context.CancelFunc
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState(types.LevelIdle, "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState(types.LevelError, "config_subscription_closed", nil)
				return
			}
			var cfg Config
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				s.publishState(types.LevelError, "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState(types.LevelError, "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			return
		}
		rwc, err := tr.Open(ctx)
		if err != nil {
			s.publishState(types.LevelDegraded, "dial_failed_retrying", err)
			if !sleep(ctx, backoff()) {
				return
			}
			continue
		}

		s.publishState(types.LevelUp, "link_established", nil)
		err = s.handleLink(ctx, rwc, cfg.pingInterval())
		_ = rwc.Close()
		if err == nil {
			// Cancelled; a new config supersedes this link.
			return
		}
		s.publishState(types.LevelDegraded, "link_lost_retrying", err)
		if !sleep(ctx, backoff()) {
			return
		}
	}
}

// handleLink owns one link until ctx ends (nil) or the link fails.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, ping time.Duration) error {
	rd := link.NewReader(rwc)
	wr := link.NewWriter(rwc)

	var lastRx atomic.Int64
	lastRx.Store(timex.NowMs())

	errCh := make(chan error, 1)
	go func() {
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			lastRx.Store(timex.NowMs())
			switch f.Type {
			case link.Ping:
				if err := wr.WriteFrame(link.Frame{Type: link.Pong}); err != nil {
					errCh <- err
					return
				}
			case link.Pong:
			case link.Command:
				cmd, err := link.DecodeCommand(f)
				if err != nil {
					println("[bridge] bad command frame:", err.Error())
					continue
				}
				go s.forward(ctx, wr, cmd)
			case link.Close:
				errCh <- errcode.LinkDown
				return
			default:
				println("[bridge] unknown frame type", int(f.Type))
			}
		}
	}()

	tick := time.NewTicker(ping)
	defer tick.Stop()
	limit := int64(missedPings) * ping.Milliseconds()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(link.Frame{Type: link.Close})
			return nil
		case err := <-errCh:
			return err
		case <-tick.C:
			if timex.NowMs()-lastRx.Load() > limit {
				return &errcode.E{C: errcode.LinkDown, Op: "bridge.handleLink", Msg: "no traffic"}
			}
			if err := wr.WriteFrame(link.Frame{Type: link.Ping}); err != nil {
				return err
			}
		}
	}
}

// forward runs one host command on the local sdi12 service and writes the
// reply frame.
func (s *Service) forward(ctx context.Context, wr *link.Writer, c link.CommandMsg) {
	rep := link.ReplyMsg{Seq: c.Seq}
	if c.Bus == "" {
		rep.Code = errcode.UnknownBus
		_ = wr.WriteFrame(link.EncodeReply(rep))
		return
	}
	wake := !c.NoWake
	req := types.SDI12Command{Command: c.Command, Wake: &wake, Raw: c.Raw, TimeoutMs: int(c.TimeoutMs)}

	wait := replySlack + 10*time.Second
	if c.TimeoutMs > 0 {
		wait = replySlack + time.Duration(c.TimeoutMs)*time.Millisecond
	}
	rctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := s.conn.RequestWait(rctx, s.conn.NewMessage(bus.T("sdi12", c.Bus, "cmd"), req, false))
	if err != nil {
		rep.Code = errcode.Timeout
		_ = wr.WriteFrame(link.EncodeReply(rep))
		return
	}
	var r types.SDI12Reply
	if err := jsonx.Decode(msg.Payload, &r); err != nil {
		rep.Code = errcode.Of(err)
	} else {
		rep.Response = r.Response
		rep.Overflow = r.Overflow
		if r.Error != "" {
			rep.Code = errcode.Code(r.Error)
		}
	}
	if err := wr.WriteFrame(link.EncodeReply(rep)); err != nil {
		var buf [20]byte
		println("[bridge] reply", string(conv.Utoa(buf[:], uint64(c.Seq))), "dropped:", err.Error())
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport opens the link.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport adds a transport by name.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		if cfg.UART == nil {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "bridge.newTransport", Msg: "uart config missing"}
		}
		return &uartTransport{cfg: *cfg.UART}, nil
	default:
		return nil, &errcode.E{C: errcode.Unsupported, Op: "bridge.newTransport", Msg: "transport " + cfg.Type}
	}
}

// UARTDial is set by platform code (see uart_rp2.go) or by tests.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct{ cfg UARTConfig }

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "bridge.UARTDial", Msg: "no dialler on this platform"}
	}
	return UARTDial(ctx, u.cfg)
}

func (u *uartTransport) String() string { return "uart" }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level types.Level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
