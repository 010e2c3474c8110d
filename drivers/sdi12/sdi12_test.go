package sdi12

import (
	"errors"
	"testing"

	"sdi12-go/errcode"
	"sdi12-go/platform"
)

// rig is one simulated line with its own registry and clock.
type rig struct {
	reg  *Registry
	clk  *platform.FakeClock
	wire *platform.Wire
}

func newRig() *rig {
	return &rig{
		reg:  NewRegistry(),
		clk:  platform.NewFakeClock(1000),
		wire: platform.NewWire(),
	}
}

// bus creates and begins a bus on pin n of the rig's wire.
func (r *rig) bus(t *testing.T, n int) (*Bus, *platform.FakePin) {
	t.Helper()
	p := r.wire.NewPin(n)
	b := New(p, r.clk, Config{Registry: r.reg})
	if err := b.Begin(); err != nil {
		t.Fatalf("Begin(pin %d): %v", n, err)
	}
	t.Cleanup(b.End)
	return b, p
}

// listener returns an active, listening bus on pin n.
func (r *rig) listener(t *testing.T, n int) (*Bus, *platform.FakePin) {
	t.Helper()
	b, p := r.bus(t, n)
	b.SetActive()
	b.ForceListen()
	return b, p
}

func readAll(b *Bus) string {
	var out []byte
	for b.Available() > 0 {
		c, err := b.ReadByte()
		if err != nil {
			break
		}
		out = append(out, c)
	}
	return string(out)
}

// mustPanic runs fn and returns the *errcode.E it panicked with.
func mustPanic(t *testing.T, fn func()) (e *errcode.E) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		var ok bool
		if e, ok = r.(*errcode.E); !ok {
			t.Fatalf("panic value %T %v, want *errcode.E", r, r)
		}
	}()
	fn()
	return nil
}

func TestNew_Defaults(t *testing.T) {
	b := New(platform.NewWire().NewPin(4), platform.NewFakeClock(0), Config{Registry: NewRegistry()})
	if b.State() != Disabled {
		t.Fatalf("state=%v want disabled", b.State())
	}
	if b.TimeoutValue() != DefaultTimeoutValue {
		t.Fatalf("timeout value=%d", b.TimeoutValue())
	}
	if b.parseTimeout != DefaultParseTimeout {
		t.Fatalf("parse timeout=%v", b.parseTimeout)
	}
	if b.DataPin() != 4 {
		t.Fatalf("DataPin=%d", b.DataPin())
	}
	if b.Available() != 0 {
		t.Fatalf("Available before Begin=%d", b.Available())
	}
	if _, err := b.ReadByte(); !errors.Is(err, ErrBufferEmpty) {
		t.Fatalf("ReadByte err=%v", err)
	}
}

func TestBegin_FirstBusBecomesActive(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.bus(t, 2)
	if !a.IsActive() || b.IsActive() {
		t.Fatalf("active: a=%v b=%v", a.IsActive(), b.IsActive())
	}
	if a.State() != Enabled || b.State() != Enabled {
		t.Fatalf("states: %v %v", a.State(), b.State())
	}
}

func TestBegin_PinInUse(t *testing.T) {
	r := newRig()
	r.bus(t, 7)
	dup := New(r.wire.NewPin(7), r.clk, Config{Registry: r.reg})
	err := dup.Begin()
	if !errors.Is(err, ErrPinInUse) {
		t.Fatalf("err=%v want pin_in_use", err)
	}
	if dup.State() != Disabled {
		t.Fatalf("state=%v", dup.State())
	}
}

func TestBegin_RegistryFull(t *testing.T) {
	r := newRig()
	for i := 0; i < MaxBuses; i++ {
		r.bus(t, i)
	}
	extra := New(r.wire.NewPin(99), r.clk, Config{Registry: r.reg})
	if err := extra.Begin(); errcode.Of(err) != errcode.Busy {
		t.Fatalf("err=%v want busy", err)
	}
}

func TestBegin_NoPin(t *testing.T) {
	r := newRig()
	b := New(nil, r.clk, Config{Registry: r.reg})
	if err := b.Begin(); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("err=%v want invalid_params", err)
	}
	if b.State() != Disabled || b.DataPin() != -1 {
		t.Fatalf("state=%v pin=%d", b.State(), b.DataPin())
	}
	if r.reg.Active() != nil {
		t.Fatalf("pinless bus became active")
	}
	// The slot is still free for a real bus.
	r.bus(t, 3)
}

func TestBeginPin_SwapsPin(t *testing.T) {
	r := newRig()
	b := New(nil, r.clk, Config{Registry: r.reg})
	if b.DataPin() != -1 {
		t.Fatalf("DataPin=%d", b.DataPin())
	}
	if err := b.BeginPin(r.wire.NewPin(12)); err != nil {
		t.Fatalf("BeginPin: %v", err)
	}
	defer b.End()
	if b.DataPin() != 12 || b.State() != Enabled {
		t.Fatalf("pin=%d state=%v", b.DataPin(), b.State())
	}
}

func TestEnd_ClearsActive(t *testing.T) {
	r := newRig()
	a, pa := r.listener(t, 1)
	a.End()
	if r.reg.Active() != nil {
		t.Fatalf("active bus survived End")
	}
	if a.State() != Disabled || pa.IRQArmed() || pa.IsOutput() {
		t.Fatalf("state=%v armed=%v out=%v", a.State(), pa.IRQArmed(), pa.IsOutput())
	}
	// An interrupt with no active bus is ignored.
	r.reg.HandleInterrupt()
	r.wire.Transmit(r.clk, "x")
	if r.reg.Buffer().Used() != 0 {
		t.Fatalf("buffer filled with no active bus")
	}
}
