package sdi12

// Pin levels for the two line conditions.
const (
	marking = false // logic 1, idle, stop bit
	spacing = true  // logic 0, start bit, break
)

// ---- ISR side ----

// receiveEdge runs in interrupt context on every edge of the data pin.
func (b *Bus) receiveEdge() {
	now := b.clk.Micros()
	level := b.pin.Get()
	b.rxEdge(now, level)
}

// rxEdge advances the assembler to now, then accounts for the new level.
//
// Bits are sampled at their centres. An edge says only that every centre
// between the previous edge and this one saw the previous level, so the
// sampling for those centres happens here, after the fact.
func (b *Bus) rxEdge(now uint32, level bool) {
	if b.rxBit == rxWaiting {
		if level != spacing {
			b.stats.spurious.Add(1)
			return
		}
		b.startChar(now)
		return
	}

	b.rxCatchUp(now)

	// Edge on the parity/stop boundary: the new level is the stop bit.
	if b.rxBit == bitStop {
		b.finishChar(level)
		return
	}
	if b.rxBit == rxWaiting {
		// Character completed by a later edge; a rise to spacing here is the
		// next start bit.
		if level == spacing {
			b.startChar(now)
		}
		return
	}
	b.rxLevel = level
}

func (b *Bus) startChar(now uint32) {
	b.rxBit = bitStart
	b.rxValue = 0
	b.rxStart = now
	b.rxLevel = spacing
	b.rxFraming = false
}

// rxCatchUp samples every bit centre that has passed by now using the level
// held since the last edge.
func (b *Bus) rxCatchUp(now uint32) {
	n := CentresElapsed(now-b.rxStart, BitPeriodMicros)
	for b.rxBit != rxWaiting && int(b.rxBit) < n {
		b.rxSample(b.rxLevel)
	}
}

func (b *Bus) rxSample(level bool) {
	switch i := b.rxBit; {
	case i == bitStart:
		if level != spacing {
			b.rxFraming = true
		}
	case i <= bitParity:
		if level == marking {
			b.rxValue |= 1 << uint(i-1)
		}
	default:
		b.finishChar(level)
		return
	}
	b.rxBit++
}

// finishChar validates the frame and stores the character. Bad frames are
// dropped and counted.
func (b *Bus) finishChar(stop bool) {
	frame := b.rxValue
	framing := b.rxFraming || stop != marking
	b.resetAssembly()
	switch {
	case framing:
		b.stats.framing.Add(1)
	case !ParityOK(frame):
		b.stats.parity.Add(1)
	default:
		b.charToBuffer(frame & 0x7F)
	}
}

func (b *Bus) charToBuffer(c byte) {
	if b.rx == nil || !b.rx.Put(c) {
		b.overflow.Store(true)
		b.stats.overflows.Add(1)
		return
	}
	b.stats.received.Add(1)
}

func (b *Bus) resetAssembly() {
	b.rxBit = rxWaiting
	b.rxValue = 0
	b.rxFraming = false
}

// ---- normal context (interrupts masked by caller) ----

// completeStale finishes an assembly once the stop bit centre has passed.
// A character whose last bits are marking ends without an edge, so only
// time reveals that it is done.
func (b *Bus) completeStale() {
	if b.rxBit == rxWaiting {
		return
	}
	now := b.clk.Micros()
	if !reached(now, b.rxStart+SampleOffset(BitPeriodMicros, bitStop)) {
		return
	}
	b.rxCatchUp(now)
}
