//go:build !rp2040 && !rp2350

package platform

import "math/bits"

// SimBitMicros is the bit time used by the simulated sensor (1200 baud).
const SimBitMicros = 833

// Transmit drives s onto the wire the way a sensor answers: each character
// as start bit, 7 data bits LSB first, even parity and a stop bit, with the
// clock advanced one bit time per bit. The line is left marking (low).
func (w *Wire) Transmit(clk *FakeClock, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i] & 0x7F
		frame := c | byte(bits.OnesCount8(c)&1)<<7
		w.TransmitFrame(clk, frame, true)
	}
}

// TransmitFrame sends one frame with caller-chosen parity and stop bits.
// frame carries the 7 data bits and the parity bit in bit 7; stopOK false
// sends a spacing stop bit.
func (w *Wire) TransmitFrame(clk *FakeClock, frame byte, stopOK bool) {
	w.bit(clk, true) // start: spacing
	for i := 0; i < 8; i++ {
		w.bit(clk, frame&1 == 0)
		frame >>= 1
	}
	w.bit(clk, !stopOK)
	w.Drive(false)
}

// Break holds spacing for d microseconds, then returns to marking.
func (w *Wire) Break(clk *FakeClock, d uint32) {
	w.Drive(true)
	clk.Advance(d)
	w.Drive(false)
}

func (w *Wire) bit(clk *FakeClock, level bool) {
	w.Drive(level)
	clk.Advance(SimBitMicros)
}
