// Package sdi12 runs the configured SDI-12 buses as a service. Each bus is
// reachable on the message bus:
//
//	sdi12/<bus>/cmd    request: types.SDI12Command (or a bare command string)
//	                   reply:   types.SDI12Reply
//	sdi12/<bus>/info   retained types.SDI12Info
//	sdi12/<bus>/state  retained types.SDI12State
//	sdi12/stats        request: anything; reply: []types.SDI12Stats
//	sdi12/state        retained types.ServiceState
//
// A transaction makes the bus active, clears the shared buffer, sends the
// command and collects the reply up to CR LF or the response timeout. The
// configured listener is restored afterwards.
package sdi12

import (
	"context"
	"time"

	"sdi12-go/bus"
	drv "sdi12-go/drivers/sdi12"
	"sdi12-go/errcode"
	"sdi12-go/platform"
	"sdi12-go/types"
	"sdi12-go/x/jsonx"
	"sdi12-go/x/mathx"
	"sdi12-go/x/strx"
	"sdi12-go/x/timex"
)

const (
	topicRoot  = "sdi12"
	topicCmd   = "cmd"
	topicInfo  = "info"
	topicState = "state"
	topicStats = "stats"

	defaultResponseTimeout = 250 * time.Millisecond
	minResponseTimeout     = 10 * time.Millisecond
	maxResponseTimeout     = 10 * time.Second
)

var (
	topicConfig       = bus.T("config", "sdi12")
	topicCmdAny       = bus.T(topicRoot, "+", topicCmd)
	topicStatsReq     = bus.T(topicRoot, topicStats)
	topicServiceState = bus.T(topicRoot, topicState)
)

// Service owns the buses named in config/sdi12.
type Service struct {
	conn *bus.Connection
	pins platform.PinFactory
	clk  drv.Clock
	reg  *drv.Registry

	ports    map[string]*port
	order    []string
	listener *port
}

type port struct {
	name        string
	bus         *drv.Bus
	cfg         types.SDI12BusConfig
	respTimeout time.Duration

	transactions uint32
	noResponse   uint32
}

// Option customises a Service.
type Option func(*Service)

// WithPins replaces the board pin factory.
func WithPins(f platform.PinFactory) Option { return func(s *Service) { s.pins = f } }

// WithClock replaces the board microsecond clock.
func WithClock(c drv.Clock) Option { return func(s *Service) { s.clk = c } }

// WithRegistry places the buses in r instead of drv.DefaultRegistry.
func WithRegistry(r *drv.Registry) Option { return func(s *Service) { s.reg = r } }

// New creates the service; Run starts it.
func New(conn *bus.Connection, opts ...Option) *Service {
	s := &Service{
		conn:  conn,
		ports: make(map[string]*port),
	}
	for _, o := range opts {
		o(s)
	}
	if s.pins == nil {
		s.pins = platform.DefaultPinFactory()
	}
	if s.clk == nil {
		s.clk = platform.DefaultClock()
	}
	if s.reg == nil {
		s.reg = drv.DefaultRegistry
	}
	return s
}

// Start runs the service in a goroutine.
func (s *Service) Start(ctx context.Context) { go s.Run(ctx) }

// Run serves until ctx is cancelled. Transactions are handled one at a time:
// all buses of a registry share one receive buffer.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	cmdSub := s.conn.Subscribe(topicCmdAny)
	statsSub := s.conn.Subscribe(topicStatsReq)
	defer func() {
		s.conn.Unsubscribe(cfgSub)
		s.conn.Unsubscribe(cmdSub)
		s.conn.Unsubscribe(statsSub)
		s.teardown()
	}()

	s.publishState(types.LevelIdle, "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cfgSub.Channel():
			var cfg types.SDI12Config
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				s.publishState(types.LevelError, "config_decode_failed", err)
				continue
			}
			s.configure(cfg)
		case msg := <-cmdSub.Channel():
			s.handleCommand(ctx, msg)
		case msg := <-statsSub.Channel():
			s.conn.Reply(msg, s.stats(), false)
		}
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *Service) configure(cfg types.SDI12Config) {
	s.teardown()

	var failed error
	for _, bc := range cfg.Buses {
		p, err := s.openPort(bc)
		if err != nil {
			println("[sdi12] bus", bc.Name, "not started:", err.Error())
			failed = err
			continue
		}
		s.ports[p.name] = p
		s.order = append(s.order, p.name)
		if bc.Active && s.listener == nil {
			s.listener = p
		}
	}
	if s.listener == nil && len(s.order) > 0 {
		s.listener = s.ports[s.order[0]]
	}
	s.restoreListener()

	for _, name := range s.order {
		p := s.ports[name]
		s.conn.Publish(s.conn.NewMessage(bus.T(topicRoot, name, topicInfo), p.info(), true))
		s.publishBusState(p)
	}

	switch {
	case len(s.order) == 0:
		s.publishState(types.LevelError, "no_buses", failed)
	case failed != nil:
		s.publishState(types.LevelDegraded, "some_buses_failed", failed)
	default:
		s.publishState(types.LevelUp, "configured", nil)
	}
	println("Info: [sdi12]", len(s.order), "bus(es) configured")
}

func (s *Service) openPort(bc types.SDI12BusConfig) (*port, error) {
	switch bc.Name {
	case "", topicStats, topicState:
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "sdi12.configure", Msg: "bad bus name " + strx.Coalesce(bc.Name, "(empty)")}
	}
	if _, dup := s.ports[bc.Name]; dup {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "sdi12.configure", Msg: "duplicate bus " + bc.Name}
	}
	pin, ok := s.pins.ByNumber(bc.Pin)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "sdi12.configure", Msg: "no such pin"}
	}
	dc := drv.Config{
		Registry:     s.reg,
		ParseTimeout: time.Duration(bc.ParseTimeoutMs) * time.Millisecond,
	}
	if bc.TxEnable != nil && *bc.TxEnable >= 0 {
		txp, ok := s.pins.ByNumber(*bc.TxEnable)
		if !ok {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "sdi12.configure", Msg: "no such tx_enable pin"}
		}
		dc.TxEnable = txp
	}
	b := drv.New(pin, s.clk, dc)
	if err := b.Begin(); err != nil {
		return nil, err
	}
	if bc.TimeoutValue != nil {
		b.SetTimeoutValue(*bc.TimeoutValue)
	}
	p := &port{name: bc.Name, bus: b, cfg: bc, respTimeout: defaultResponseTimeout}
	if bc.ResponseTimeoutMs > 0 {
		p.respTimeout = clampTimeout(bc.ResponseTimeoutMs)
	}
	return p, nil
}

// teardown ends every bus and withdraws its retained topics.
func (s *Service) teardown() {
	for _, name := range s.order {
		p := s.ports[name]
		p.bus.End()
		s.conn.Publish(s.conn.NewMessage(bus.T(topicRoot, name, topicInfo), nil, true))
		s.conn.Publish(s.conn.NewMessage(bus.T(topicRoot, name, topicState), nil, true))
		delete(s.ports, name)
	}
	s.order = s.order[:0]
	s.listener = nil
}

// restoreListener hands the line back to the configured listening bus.
func (s *Service) restoreListener() {
	if s.listener == nil {
		return
	}
	s.listener.bus.SetActive()
	if s.listener.bus.State() != drv.Listening {
		s.listener.bus.ForceListen()
	}
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (s *Service) handleCommand(ctx context.Context, msg *bus.Message) {
	name, _ := msg.Topic[1].(string)
	var cmd types.SDI12Command
	if str, ok := msg.Payload.(string); ok {
		cmd.Command = str
	} else if err := jsonx.Decode(msg.Payload, &cmd); err != nil {
		s.conn.Reply(msg, types.SDI12Reply{Bus: name, Error: string(errcode.Of(err))}, false)
		return
	}
	p, ok := s.ports[name]
	if !ok {
		s.conn.Reply(msg, types.SDI12Reply{Bus: name, Command: cmd.Command, Error: string(errcode.UnknownBus)}, false)
		return
	}
	s.conn.Reply(msg, s.transact(ctx, p, cmd), false)
}

func (s *Service) transact(ctx context.Context, p *port, cmd types.SDI12Command) types.SDI12Reply {
	rep := types.SDI12Reply{Bus: p.name, Command: cmd.Command}
	if cmd.Command == "" {
		rep.Error = string(errcode.InvalidParams)
		return rep
	}
	timeout := p.respTimeout
	if cmd.TimeoutMs > 0 {
		timeout = clampTimeout(cmd.TimeoutMs)
	}

	b := p.bus
	b.SetActive()
	b.ClearBuffer()
	if cmd.WakeOrDefault() {
		b.SendCommand(cmd.Command)
	} else {
		b.SendResponse(cmd.Command)
	}
	p.transactions++

	tctx, cancel := context.WithTimeout(ctx, timeout)
	resp := collect(tctx, b, cmd.Raw)
	cancel()

	rep.Response = string(resp)
	rep.Overflow = b.Overflow()
	switch {
	case len(resp) == 0:
		p.noResponse++
		rep.Error = string(errcode.NoResponse)
	case !cmd.Raw && !hasCRLF(resp):
		rep.Error = string(errcode.Timeout)
	}

	if s.listener != nil && s.listener != p {
		s.restoreListener()
		s.publishBusState(s.listener)
	}
	s.publishBusState(p)
	return rep
}

// collect reads until CR LF (unless raw) or ctx ends.
func collect(ctx context.Context, b *drv.Bus, raw bool) []byte {
	var out []byte
	for {
		c, err := b.ReadByteContext(ctx)
		if err != nil {
			return out
		}
		out = append(out, c)
		if !raw && hasCRLF(out) {
			return out
		}
	}
}

func hasCRLF(p []byte) bool {
	n := len(p)
	return n >= 2 && p[n-2] == '\r' && p[n-1] == '\n'
}

func clampTimeout(ms int) time.Duration {
	return mathx.Clamp(time.Duration(ms)*time.Millisecond, minResponseTimeout, maxResponseTimeout)
}

// -----------------------------------------------------------------------------
// Reporting
// -----------------------------------------------------------------------------

func (p *port) info() types.SDI12Info {
	tx := -1
	if p.cfg.TxEnable != nil {
		tx = *p.cfg.TxEnable
	}
	return types.SDI12Info{
		Bus:        p.name,
		Pin:        p.bus.DataPin(),
		TxEnable:   tx,
		Baud:       drv.Baud,
		BufferSize: drv.BufferSize,
	}
}

func (s *Service) stats() []types.SDI12Stats {
	out := make([]types.SDI12Stats, 0, len(s.order))
	for _, name := range s.order {
		p := s.ports[name]
		st := p.bus.Stats()
		out = append(out, types.SDI12Stats{
			Bus:           name,
			Received:      st.Received,
			Sent:          st.Sent,
			Overflows:     st.Overflows,
			ParityErrors:  st.ParityErrors,
			FramingErrors: st.FramingErrors,
			SpuriousEdges: st.SpuriousEdges,
			Transactions:  p.transactions,
			NoResponse:    p.noResponse,
		})
	}
	return out
}

func (s *Service) publishBusState(p *port) {
	st := types.SDI12State{
		Line:   p.bus.State().String(),
		Active: p.bus.IsActive(),
		TS:     timex.NowMs(),
	}
	s.conn.Publish(s.conn.NewMessage(bus.T(topicRoot, p.name, topicState), st, true))
}

func (s *Service) publishState(level types.Level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicServiceState, st, true))
}
