// Package platform supplies the board-specific pins and clock the SDI-12
// driver runs on: RP2 GPIO on hardware, a simulated shared wire on the host.
package platform

import "time"

// Pin is a bidirectional GPIO with an any-edge interrupt. It has the same
// method set as sdi12.Pin.
type Pin interface {
	ConfigureInput() error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// PinFactory maps logical pin numbers to pins.
type PinFactory interface {
	ByNumber(n int) (Pin, bool)
}

// SystemClock is a microsecond counter over the monotonic clock.
type SystemClock struct{}

var epoch = time.Now()

// DefaultClock returns the board clock.
func DefaultClock() SystemClock { return SystemClock{} }

func (SystemClock) Micros() uint32 {
	return uint32(time.Since(epoch) / time.Microsecond)
}

// SpinUntil busy-waits; sleeping would hand the core to the scheduler and
// miss bit edges.
func (c SystemClock) SpinUntil(deadline uint32) {
	for int32(c.Micros()-deadline) < 0 {
	}
}
