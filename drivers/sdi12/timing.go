package sdi12

import (
	"sdi12-go/x/mathx"
	"sdi12-go/x/timex"
)

// Line timing at 1200 baud.
const (
	Baud      = 1200
	FrameBits = 10 // start + 7 data + parity + stop

	BreakMicros   = 12100 // spacing held to wake sensors
	MarkingMicros = 8400  // marking after the break, before the first start bit
)

// BitPeriodMicros is the nominal bit time (833 us at 1200 baud).
var BitPeriodMicros = uint32(timex.PeriodFromHz(Baud) / 1000)

// CharMicros is one full character on the wire.
var CharMicros = FrameBits * BitPeriodMicros

// Bit positions within a frame.
const (
	bitStart  = 0
	bitParity = 8
	bitStop   = 9
	rxWaiting = -1
)

// SampleOffset is the offset of the centre of bit i from the leading edge
// of the start bit.
func SampleOffset(period uint32, i int) uint32 {
	return period*uint32(i) + period/2
}

// CentresElapsed is how many bit centres lie at or before dt microseconds
// after the leading edge of the start bit. It saturates at FrameBits.
func CentresElapsed(dt, period uint32) int {
	n := (dt + period - period/2) / period
	return int(mathx.Min(n, FrameBits))
}

// reached reports whether now is at or past deadline, wrap-safe.
func reached(now, deadline uint32) bool { return int32(now-deadline) >= 0 }
