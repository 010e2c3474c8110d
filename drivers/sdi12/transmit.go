package sdi12

// wake sends the break and the marking period that precede a command.
func (b *Bus) wake() {
	t := b.clk.Micros()
	b.pin.Set(spacing)
	t += BreakMicros
	b.clk.SpinUntil(t)
	b.pin.Set(marking)
	t += MarkingMicros
	b.clk.SpinUntil(t)
}

// writeChar bit-bangs one frame. Deadlines accumulate from the leading edge
// of the start bit so per-bit overhead does not drift.
func (b *Bus) writeChar(c byte) {
	if maskCharTx {
		s := disableIRQ()
		defer restoreIRQ(s)
	}
	out := Frame(c)
	p := BitPeriodMicros
	t := b.clk.Micros()
	b.pin.Set(spacing)
	t += p
	b.clk.SpinUntil(t)
	for i := 0; i < 8; i++ {
		b.pin.Set(out&1 == 0)
		out >>= 1
		t += p
		b.clk.SpinUntil(t)
	}
	b.pin.Set(marking)
	t += p
	b.clk.SpinUntil(t)
	b.stats.sent.Add(1)
}

func writeChars[T ~string | ~[]byte](b *Bus, s T) {
	for i := 0; i < len(s); i++ {
		b.writeChar(s[i])
	}
}

func sendCommand[T ~string | ~[]byte](b *Bus, op string, cmd T) {
	b.requireEnabled(op)
	b.setState(Transmitting, op)
	b.wake()
	writeChars(b, cmd)
	b.finishTx()
}

func sendResponse[T ~string | ~[]byte](b *Bus, op string, resp T) {
	b.requireEnabled(op)
	b.setState(Transmitting, op)
	writeChars(b, resp)
	b.finishTx()
}

// SendCommand wakes the sensors, transmits cmd and leaves the bus listening
// for the reply if it is the active bus (otherwise Enabled).
func (b *Bus) SendCommand(cmd string) { sendCommand(b, "SendCommand", cmd) }

// SendCommandBytes is SendCommand for a byte slice.
func (b *Bus) SendCommandBytes(cmd []byte) { sendCommand(b, "SendCommand", cmd) }

// SendResponse transmits resp without a wake sequence, as a sensor does.
func (b *Bus) SendResponse(resp string) { sendResponse(b, "SendResponse", resp) }

// SendResponseBytes is SendResponse for a byte slice.
func (b *Bus) SendResponseBytes(resp []byte) { sendResponse(b, "SendResponse", resp) }

// WriteByte transmits one character without a wake sequence.
func (b *Bus) WriteByte(c byte) error {
	sendResponse(b, "WriteByte", []byte{c})
	return nil
}

// Write transmits p without a wake sequence. It always writes all of p.
func (b *Bus) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	sendResponse(b, "Write", p)
	return len(p), nil
}
