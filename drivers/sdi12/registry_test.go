package sdi12

import (
	"errors"
	"strings"
	"testing"

	"sdi12-go/errcode"
	"sdi12-go/platform"
)

func armedCount(pins ...*platform.FakePin) int {
	n := 0
	for _, p := range pins {
		if p.IRQArmed() {
			n++
		}
	}
	return n
}

func TestSetActive_ReturnsWhetherChanged(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.bus(t, 2)
	if a.SetActive() {
		t.Fatalf("SetActive on the active bus returned true")
	}
	if !b.SetActive() {
		t.Fatalf("SetActive on another bus returned false")
	}
	if r.reg.Active() != b || a.IsActive() {
		t.Fatalf("active bus not switched")
	}
}

func TestSetActive_AtMostOneArmed(t *testing.T) {
	r := newRig()
	a, pa := r.bus(t, 1)
	b, pb := r.bus(t, 2)
	c, pc := r.bus(t, 3)
	check := func(step string, want *platform.FakePin) {
		t.Helper()
		if n := armedCount(pa, pb, pc); n > 1 {
			t.Fatalf("%s: %d interrupts armed", step, n)
		}
		if want != nil && !want.IRQArmed() {
			t.Fatalf("%s: expected pin %d armed", step, want.Number())
		}
	}

	a.ForceListen()
	check("a listens", pa)

	b.SetActive()
	check("b active", nil)
	if a.State() != Listening || pa.IRQArmed() {
		t.Fatalf("previous active bus: state=%v armed=%v", a.State(), pa.IRQArmed())
	}

	b.ForceListen()
	check("b listens", pb)

	a.SetActive()
	check("a active again", pa)
	if pb.IRQArmed() {
		t.Fatalf("b still armed")
	}

	c.ForceHold()
	check("c holds", pa)

	c.SendCommand("0!")
	check("c sent", pa)

	a.SendCommand("1!")
	check("a sent", pa)

	a.End()
	check("a ended", nil)
	if armedCount(pa, pb, pc) != 0 {
		t.Fatalf("interrupt armed with no active bus")
	}
}

func TestForceListen_NotActivePanics(t *testing.T) {
	r := newRig()
	r.bus(t, 1)
	b, pb := r.bus(t, 2)
	e := mustPanic(t, b.ForceListen)
	if !errors.Is(e, ErrNotActive) {
		t.Fatalf("panic %v want not_active", e)
	}
	if b.State() != Enabled || pb.IRQArmed() {
		t.Fatalf("state=%v armed=%v", b.State(), pb.IRQArmed())
	}
}

func TestSetActive_DisabledPanics(t *testing.T) {
	r := newRig()
	b := New(r.wire.NewPin(1), r.clk, Config{Registry: r.reg})
	e := mustPanic(t, func() { b.SetActive() })
	if e.C != errcode.Disabled {
		t.Fatalf("code=%v", e.C)
	}
}

func TestSetActive_DuringTransmissionPanics(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.bus(t, 2)
	var got *errcode.E
	watcher := r.wire.NewPin(50)
	_ = watcher.SetIRQ(func() {
		if got != nil {
			return
		}
		func() {
			defer func() {
				if v := recover(); v != nil {
					got, _ = v.(*errcode.E)
				}
			}()
			b.SetActive()
		}()
	})

	a.SendCommand("0!")

	if got == nil || got.C != errcode.Transmitting {
		t.Fatalf("switch during transmission: %v", got)
	}
	if !a.IsActive() {
		t.Fatalf("active bus changed mid-transmission")
	}
	_ = watcher.ClearIRQ()
	if !b.SetActive() {
		t.Fatalf("switch after transmission refused")
	}
}

func TestEnd_DuringTransmissionPanics(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	var got *errcode.E
	watcher := r.wire.NewPin(50)
	_ = watcher.SetIRQ(func() {
		if got != nil {
			return
		}
		func() {
			defer func() {
				if v := recover(); v != nil {
					got, _ = v.(*errcode.E)
				}
			}()
			a.End()
		}()
	})

	a.SendCommand("0!")

	if got == nil || got.C != errcode.Transmitting {
		t.Fatalf("end during transmission: %v", got)
	}
	_ = watcher.ClearIRQ()
	a.End()
	if a.State() != Disabled || a.IsActive() {
		t.Fatalf("after End: state=%v active=%v", a.State(), a.IsActive())
	}
}

func TestRegistry_SharedBuffer(t *testing.T) {
	r := newRig()
	a, _ := r.listener(t, 1)
	other := platform.NewWire()
	b := New(other.NewPin(2), r.clk, Config{Registry: r.reg})
	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	defer b.End()

	r.wire.Transmit(r.clk, "hi")
	if a.Available() != 2 || b.Available() != 2 {
		t.Fatalf("available a=%d b=%d", a.Available(), b.Available())
	}
	if c, _ := b.ReadByte(); c != 'h' {
		t.Fatalf("b read %q", c)
	}
	if c, _ := a.ReadByte(); c != 'i' {
		t.Fatalf("a read %q", c)
	}

	// The non-active bus's line is not watched.
	other.Transmit(r.clk, "x")
	if a.Available() != 0 {
		t.Fatalf("non-active line received")
	}
}

func TestRegistry_ClearBufferResetsEveryOverflow(t *testing.T) {
	r := newRig()
	a, _ := r.listener(t, 1)
	b := New(platform.NewWire().NewPin(2), r.clk, Config{Registry: r.reg})
	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	defer b.End()

	r.wire.Transmit(r.clk, strings.Repeat("7", BufferSize+5))
	if !a.Overflow() || !b.Overflow() {
		t.Fatalf("overflow a=%v b=%v", a.Overflow(), b.Overflow())
	}
	b.ClearBuffer()
	if a.Overflow() || a.Available() != 0 {
		t.Fatalf("after clear via b: a overflow=%v available=%d", a.Overflow(), a.Available())
	}
	if b.Overflow() || b.Available() != 0 {
		t.Fatalf("after clear via b: b overflow=%v available=%d", b.Overflow(), b.Available())
	}
}

func TestRegistry_SeparateRegistriesIndependent(t *testing.T) {
	r1, r2 := newRig(), newRig()
	a, _ := r1.listener(t, 1)
	b, _ := r2.listener(t, 1)
	if !a.IsActive() || !b.IsActive() {
		t.Fatalf("each registry has its own active bus")
	}
	r1.wire.Transmit(r1.clk, "q")
	if a.Available() != 1 || b.Available() != 0 {
		t.Fatalf("a=%d b=%d", a.Available(), b.Available())
	}
}
