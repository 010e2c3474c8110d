// Package sdi12 implements an SDI-12 bus endpoint in software over a single
// GPIO pin. There is no UART involved: the wake sequence and every character
// are bit-banged with busy-wait timing, and received characters are
// assembled from edge interrupts.
//
//	b := sdi12.New(pin, clock, sdi12.Config{})
//	_ = b.Begin()
//	b.SetActive()
//	b.SendCommand("0I!")     // wake, transmit, then listen
//	for b.Available() > 0 {
//		c, _ := b.ReadByte()
//		...
//	}
//
// Line levels follow the SDI-12 electrical convention as seen through the
// level shifter: marking (logic 1, idle) is a low pin, spacing (logic 0,
// start bit, break) is a high pin. Characters are 7 data bits, even parity,
// one stop bit at 1200 baud.
//
// All buses created against one Registry share a single receive buffer. Only
// the registry's active bus may listen; its pin interrupt is the only one
// armed, and the registry's HandleInterrupt dispatches to it.
//
// Precondition violations (sending on a disabled bus, listening on a bus that
// is not active, switching the active bus during a transmission) panic with
// an *errcode.E. They are programming errors, not runtime conditions.
package sdi12

import (
	"sync/atomic"
	"time"

	"sdi12-go/errcode"
	"sdi12-go/x/mathx"

	"tinygo.org/x/drivers"
)

// Errors returned or raised by the driver.
var (
	ErrBufferEmpty  = errcode.BufferEmpty
	ErrDisabled     = errcode.Disabled
	ErrNotActive    = errcode.NotActive
	ErrTransmitting = errcode.Transmitting
	ErrPinInUse     = errcode.PinInUse
	ErrRegistryFull = errcode.Busy
)

// Defaults applied by New.
const (
	DefaultTimeoutValue = -9999
	DefaultParseTimeout = 150 * time.Millisecond
)

// Pin is the bus data line. Implementations live in package platform.
// SetIRQ must fire the handler on both edges.
type Pin interface {
	ConfigureInput() error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// Clock is a free-running microsecond counter. SpinUntil busy-waits until
// the counter reaches deadline (wrap-safe).
type Clock interface {
	Micros() uint32
	SpinUntil(deadline uint32)
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Registry defaults to DefaultRegistry.
	Registry *Registry
	// TxEnable is the level shifter direction line: high while this side
	// drives the bus, low while listening. Nil if not fitted.
	TxEnable Pin
	// TimeoutValue is returned by ParseInt/ParseFloat on timeout. Zero
	// selects DefaultTimeoutValue; use SetTimeoutValue to store a literal 0.
	TimeoutValue int64
	// ParseTimeout bounds each wait for the next character while parsing.
	// Default 150 ms, clamped to [1 ms, 10 s].
	ParseTimeout time.Duration
}

// Bus is one SDI-12 endpoint on one data pin.
type Bus struct {
	reg  *Registry
	rx   *RxBuffer // shared; attached by Begin
	pin  Pin
	clk  Clock
	txEn Pin

	handle   Handle
	state    atomic.Uint32 // LineState
	overflow atomic.Bool

	timeoutValue int64
	parseTimeout time.Duration

	// Receive assembly. Touched only by the ISR or with interrupts masked.
	rxBit      int8
	rxValue    uint8
	rxStart    uint32
	rxLevel    bool
	rxFraming  bool
	isrHandler func()

	stats counters
}

// Ensure the bus can stand in wherever a TinyGo UART is expected.
var _ drivers.UART = (*Bus)(nil)

// New creates a disabled bus. It does not touch the pin.
func New(pin Pin, clk Clock, cfg Config) *Bus {
	reg := cfg.Registry
	if reg == nil {
		reg = DefaultRegistry
	}
	b := &Bus{
		reg:          reg,
		pin:          pin,
		clk:          clk,
		txEn:         cfg.TxEnable,
		timeoutValue: cfg.TimeoutValue,
		parseTimeout: cfg.ParseTimeout,
		rxBit:        rxWaiting,
	}
	if b.timeoutValue == 0 {
		b.timeoutValue = DefaultTimeoutValue
	}
	if b.parseTimeout <= 0 {
		b.parseTimeout = DefaultParseTimeout
	}
	b.parseTimeout = mathx.Clamp(b.parseTimeout, time.Millisecond, 10*time.Second)
	b.isrHandler = reg.HandleInterrupt
	return b
}

// Begin enables the bus: it joins the registry, attaches the shared receive
// buffer and releases the line. If no bus is active yet, this one becomes
// active.
func (b *Bus) Begin() error {
	if b.State() != Disabled {
		return nil
	}
	if b.pin == nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "sdi12.Begin", Msg: "no data pin"}
	}
	if err := b.reg.attach(b); err != nil {
		return err
	}
	b.rx = b.reg.rx
	if b.txEn != nil {
		_ = b.txEn.ConfigureOutput(false)
	}
	b.setState(Enabled, "Begin")
	b.reg.activateIfIdle(b)
	return nil
}

// BeginPin swaps the data pin of a disabled bus, then calls Begin.
func (b *Bus) BeginPin(pin Pin) error {
	if b.State() != Disabled {
		b.violation(errcode.InvalidParams, "BeginPin")
	}
	b.pin = pin
	return b.Begin()
}

// End disables the bus, releases the line and leaves the registry. If it was
// the active bus, the registry is left without an active bus. Ending a bus
// mid-transmission panics.
func (b *Bus) End() {
	switch b.State() {
	case Disabled:
		return
	case Transmitting:
		b.violation(errcode.Transmitting, "End")
	}
	b.setState(Disabled, "End")
	b.reg.detach(b)
}

// DataPin returns the data pin number, or -1 if none is set.
func (b *Bus) DataPin() int {
	if b.pin == nil {
		return -1
	}
	return b.pin.Number()
}

// SetTimeoutValue sets the value ParseInt and ParseFloat return on timeout.
func (b *Bus) SetTimeoutValue(v int64) { b.timeoutValue = v }

// TimeoutValue returns the parse timeout sentinel.
func (b *Bus) TimeoutValue() int64 { return b.timeoutValue }

// SetTimeout sets how long the parse helpers wait for each character.
func (b *Bus) SetTimeout(d time.Duration) {
	b.parseTimeout = mathx.Clamp(d, time.Millisecond, 10*time.Second)
}

// SetActive makes this bus the registry's active bus. It returns false if
// the bus was already active.
func (b *Bus) SetActive() bool { return b.reg.setActive(b) }

// IsActive reports whether this bus is the registry's active bus.
func (b *Bus) IsActive() bool { return b.reg.isActive(b) }

// Registry returns the registry the bus belongs to.
func (b *Bus) Registry() *Registry { return b.reg }

func (b *Bus) violation(c errcode.Code, op string) {
	panic(&errcode.E{C: c, Op: "sdi12." + op, Msg: "state=" + b.State().String()})
}
