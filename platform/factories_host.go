//go:build !rp2040 && !rp2350

package platform

import (
	"sync"
	"sync/atomic"
)

// ----------------------------- wire (host) -----------------------------------

// Wire is a simulated single-conductor bus. Pins attached to it read its
// level; output pins drive it. Every level change calls the interrupt
// handler of each attached pin, synchronously, outside all locks.
type Wire struct {
	mu    sync.Mutex
	level bool
	pins  []*FakePin
	edges int
}

// NewWire returns an idle (low) wire.
func NewWire() *Wire { return &Wire{} }

// NewPin attaches a new pin with the given number.
func (w *Wire) NewPin(n int) *FakePin {
	p := &FakePin{number: n, wire: w}
	w.mu.Lock()
	w.pins = append(w.pins, p)
	w.mu.Unlock()
	return p
}

// Level returns the current line level.
func (w *Wire) Level() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.level
}

// Edges returns the number of level changes seen so far.
func (w *Wire) Edges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edges
}

// Drive sets the line level as an external device would.
func (w *Wire) Drive(level bool) {
	w.mu.Lock()
	if w.level == level {
		w.mu.Unlock()
		return
	}
	w.level = level
	w.edges++
	pins := append([]*FakePin(nil), w.pins...)
	w.mu.Unlock()
	for _, p := range pins {
		if h := p.handler(); h != nil {
			h()
		}
	}
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin is a pin on a Wire for host-side tests.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	wire    *Wire
	modeOut bool
	irqFunc func()
}

func (p *FakePin) ConfigureInput() error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.mu.Unlock()
	p.wire.Drive(initial)
	return nil
}

// Set drives the wire if the pin is an output; inputs ignore it.
func (p *FakePin) Set(level bool) {
	p.mu.RLock()
	out := p.modeOut
	p.mu.RUnlock()
	if out {
		p.wire.Drive(level)
	}
}

func (p *FakePin) Get() bool { return p.wire.Level() }

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(handler func()) error {
	p.mu.Lock()
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

// IRQArmed reports whether an interrupt handler is installed.
func (p *FakePin) IRQArmed() bool { return p.handler() != nil }

// IsOutput reports whether the pin is driving the wire.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Wire returns the wire the pin is attached to.
func (p *FakePin) Wire() *Wire { return p.wire }

func (p *FakePin) handler() func() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.irqFunc
}

// HostPinFactory returns stable *FakePin instances per number, each on its
// own wire.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func (f *HostPinFactory) ByNumber(n int) (Pin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*FakePin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = NewWire().NewPin(n)
		f.pins[n] = p
	}
	return p, true
}

// Get exposes the underlying *FakePin for tests (e.g. to drive its wire).
func (f *HostPinFactory) Get(n int) (*FakePin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	return p, ok
}

// DefaultPinFactory provides a host GPIO factory.
func DefaultPinFactory() PinFactory {
	return &HostPinFactory{pins: make(map[int]*FakePin)}
}

// ----------------------------- clock (host) ----------------------------------

// FakeClock is a microsecond counter that only moves when told to. SpinUntil
// jumps straight to the deadline.
type FakeClock struct {
	now atomic.Uint32
}

// NewFakeClock returns a clock reading start.
func NewFakeClock(start uint32) *FakeClock {
	c := &FakeClock{}
	c.now.Store(start)
	return c
}

func (c *FakeClock) Micros() uint32 { return c.now.Load() }

func (c *FakeClock) SpinUntil(deadline uint32) {
	for {
		cur := c.now.Load()
		if int32(deadline-cur) <= 0 || c.now.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// Advance moves the clock forward by d microseconds.
func (c *FakeClock) Advance(d uint32) { c.now.Add(d) }
