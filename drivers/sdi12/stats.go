package sdi12

import "sync/atomic"

// Stats are running counters for one bus.
type Stats struct {
	Received      uint32 // characters stored in the buffer
	Sent          uint32 // characters transmitted
	Overflows     uint32 // characters dropped on a full buffer
	ParityErrors  uint32
	FramingErrors uint32 // bad start or stop bit, including wake breaks
	SpuriousEdges uint32 // edges to marking while idle
}

type counters struct {
	received  atomic.Uint32
	sent      atomic.Uint32
	overflows atomic.Uint32
	parity    atomic.Uint32
	framing   atomic.Uint32
	spurious  atomic.Uint32
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Received:      b.stats.received.Load(),
		Sent:          b.stats.sent.Load(),
		Overflows:     b.stats.overflows.Load(),
		ParityErrors:  b.stats.parity.Load(),
		FramingErrors: b.stats.framing.Load(),
		SpuriousEdges: b.stats.spurious.Load(),
	}
}

// ResetStats zeroes the bus counters.
func (b *Bus) ResetStats() {
	b.stats.received.Store(0)
	b.stats.sent.Store(0)
	b.stats.overflows.Store(0)
	b.stats.parity.Store(0)
	b.stats.framing.Store(0)
	b.stats.spurious.Store(0)
}
