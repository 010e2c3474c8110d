//go:build rp2040 || rp2350

package platform

import "machine"

// DefaultPinFactory maps logical numbers directly to machine.Pin(n), which
// matches Pico / Pico 2 GP numbering.
func DefaultPinFactory() PinFactory { return rp2PinFactory{} }

type rp2PinFactory struct{}

func (rp2PinFactory) ByNumber(n int) (Pin, bool) {
	// RP2 user GPIOs are GP0..GP28.
	if n < 0 || n > 28 {
		return nil, false
	}
	return &rp2Pin{p: machine.Pin(n), n: n}, true
}

type rp2Pin struct {
	p machine.Pin
	n int
}

// ConfigureInput leaves the pin floating; the level shifter holds the line.
func (r *rp2Pin) ConfigureInput() error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Set(initial)
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Number() int    { return r.n }

// SetIRQ fires handler on both edges. The RP2 port acknowledges the GPIO
// interrupt before calling back.
func (r *rp2Pin) SetIRQ(handler func()) error {
	return r.p.SetInterrupt(machine.PinToggle, func(machine.Pin) { handler() })
}

// ClearIRQ must name the events SetIRQ enabled; a nil callback only masks
// the events it is given.
func (r *rp2Pin) ClearIRQ() error {
	return r.p.SetInterrupt(machine.PinToggle, nil)
}
