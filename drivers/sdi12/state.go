package sdi12

import "sdi12-go/errcode"

// LineState is what the bus is currently doing with its data pin.
type LineState uint8

const (
	// Disabled: not registered, pin released, no interrupt.
	Disabled LineState = iota
	// Enabled: registered, pin released as input, no interrupt.
	Enabled
	// Holding: pin driven to marking, no interrupt.
	Holding
	// Transmitting: pin driven by the bit-banger, no interrupt.
	Transmitting
	// Listening: pin is an input with the edge interrupt armed. Only the
	// active bus may listen.
	Listening
)

func (s LineState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Holding:
		return "holding"
	case Transmitting:
		return "transmitting"
	case Listening:
		return "listening"
	}
	return "unknown"
}

// State returns the current line state.
func (b *Bus) State() LineState { return LineState(b.state.Load()) }

// ForceHold drives the line to marking and keeps it there.
func (b *Bus) ForceHold() {
	b.requireEnabled("ForceHold")
	b.setState(Holding, "ForceHold")
}

// ForceListen releases the line and arms the receiver. The bus must be the
// active bus.
func (b *Bus) ForceListen() {
	b.requireEnabled("ForceListen")
	b.setState(Listening, "ForceListen")
}

func (b *Bus) requireEnabled(op string) {
	if b.State() == Disabled {
		b.violation(errcode.Disabled, op)
	}
}

// setState performs one transition. The state word and the interrupt arming
// change together with interrupts masked; pin direction and level are
// changed outside the mask.
func (b *Bus) setState(next LineState, op string) {
	switch next {
	case Holding, Transmitting:
		b.enterDriving(next, op)
		b.txEnable(true)
		_ = b.pin.ConfigureOutput(marking)
	case Listening:
		b.txEnable(false)
		_ = b.pin.ConfigureInput()
		b.enterListening(op, true)
	default: // Disabled, Enabled
		b.enterReleased(next)
		b.txEnable(false)
		_ = b.pin.ConfigureInput()
	}
}

func (b *Bus) enterDriving(next LineState, op string) {
	s := disableIRQ()
	defer restoreIRQ(s)
	if next == Transmitting {
		b.reg.claimTx(b, op)
	} else {
		b.reg.releaseTx(b)
	}
	b.disarm()
	b.resetAssembly()
	b.state.Store(uint32(next))
}

// enterListening arms the receiver if the bus is active. Otherwise the bus
// is left Enabled and, if strict, the caller's precondition is reported.
func (b *Bus) enterListening(op string, strict bool) {
	s := disableIRQ()
	defer restoreIRQ(s)
	b.reg.releaseTx(b)
	b.resetAssembly()
	if !b.reg.isActiveLocked(b) {
		b.disarm()
		b.state.Store(uint32(Enabled))
		if strict {
			b.violation(errcode.NotActive, op)
		}
		return
	}
	b.state.Store(uint32(Listening))
	b.arm()
}

func (b *Bus) enterReleased(next LineState) {
	s := disableIRQ()
	defer restoreIRQ(s)
	b.reg.releaseTx(b)
	b.disarm()
	b.resetAssembly()
	b.state.Store(uint32(next))
}

// finishTx ends a transmission: the active bus listens for the reply, any
// other bus releases the line.
func (b *Bus) finishTx() {
	b.txEnable(false)
	_ = b.pin.ConfigureInput()
	b.enterListening("finishTx", false)
}

// arm and disarm run with interrupts masked.
func (b *Bus) arm()    { _ = b.pin.SetIRQ(b.isrHandler) }
func (b *Bus) disarm() { _ = b.pin.ClearIRQ() }

func (b *Bus) txEnable(on bool) {
	if b.txEn != nil {
		b.txEn.Set(on)
	}
}
