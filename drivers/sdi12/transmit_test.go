package sdi12

import (
	"errors"
	"testing"

	"sdi12-go/errcode"
	"sdi12-go/platform"
)

type edge struct {
	at    uint32
	level bool
}

// recordEdges records every edge on the rig's wire relative to t0.
func (r *rig) recordEdges(t0 *uint32) *[]edge {
	var edges []edge
	p := r.wire.NewPin(63)
	_ = p.SetIRQ(func() {
		edges = append(edges, edge{r.clk.Micros() - *t0, r.wire.Level()})
	})
	return &edges
}

func TestSendCommand_Waveform(t *testing.T) {
	r := newRig()
	b, pin := r.bus(t, 1)
	var t0 uint32
	edges := r.recordEdges(&t0)
	t0 = r.clk.Micros()

	b.SendCommand("0")

	p := BitPeriodMicros
	start := uint32(BreakMicros + MarkingMicros)
	// '0' = 0x30, parity 0: data 0,0,0,0,1,1,0 then parity 0.
	want := []edge{
		{0, spacing},
		{BreakMicros, marking},
		{start, spacing},
		{start + 5*p, marking},
		{start + 7*p, spacing},
		{start + 9*p, marking},
	}
	got := *edges
	if len(got) != len(want) {
		t.Fatalf("edges=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("edge %d = %+v want %+v", i, got[i], want[i])
		}
	}
	if end := r.clk.Micros() - t0; end != start+10*p {
		t.Fatalf("transmission took %d us", end)
	}
	if b.State() != Listening || !pin.IRQArmed() || pin.IsOutput() {
		t.Fatalf("after send: state=%v armed=%v out=%v", b.State(), pin.IRQArmed(), pin.IsOutput())
	}
	if s := b.Stats(); s.Sent != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestSendCommand_DisabledPanics(t *testing.T) {
	r := newRig()
	b := New(r.wire.NewPin(1), r.clk, Config{Registry: r.reg})
	e := mustPanic(t, func() { b.SendCommand("aM!") })
	if !errors.Is(e, ErrDisabled) {
		t.Fatalf("panic %v want disabled", e)
	}
	if r.wire.Edges() != 0 {
		t.Fatalf("disabled bus drove the line")
	}
}

func TestSendCommand_NonActiveSenderReachesListener(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.listener(t, 2)
	if a.IsActive() || !b.IsActive() {
		t.Fatalf("setup: a=%v b=%v", a.IsActive(), b.IsActive())
	}

	a.SendCommand("aM!")

	if got := readAll(b); got != "aM!" {
		t.Fatalf("listener got %q", got)
	}
	if a.State() != Enabled {
		t.Fatalf("sender state=%v want enabled", a.State())
	}
	if b.State() != Listening {
		t.Fatalf("listener state=%v", b.State())
	}
	// The wake break is seen as one bad frame.
	if s := b.Stats(); s.FramingErrors != 1 {
		t.Fatalf("listener stats=%+v", s)
	}
}

func TestSendResponse_NoWake(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.bus(t, 2)
	b.SetActive()
	b.ForceListen()
	var t0 uint32
	edges := r.recordEdges(&t0)
	t0 = r.clk.Micros()

	a.SendResponse("0\r\n")
	if (*edges)[0].at != 0 {
		t.Fatalf("response preceded by a break: %v", (*edges)[0])
	}
	if got := readAll(b); got != "0\r\n" {
		t.Fatalf("got %q", got)
	}
	if b.Stats().FramingErrors != 0 {
		t.Fatalf("stats=%+v", b.Stats())
	}
}

func TestWrite_Stream(t *testing.T) {
	r := newRig()
	a, _ := r.bus(t, 1)
	b, _ := r.bus(t, 2)
	b.SetActive()
	b.ForceListen()
	if err := a.WriteByte('x'); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if n, err := a.Write([]byte("yz")); n != 2 || err != nil {
		t.Fatalf("Write=%d,%v", n, err)
	}
	a.SendCommandBytes([]byte("1!"))
	buf := make([]byte, 16)
	n, _ := b.Read(buf)
	if got := string(buf[:n]); got != "xyz1!" {
		t.Fatalf("got %q", got)
	}
}

func TestTxEnable_FollowsDirection(t *testing.T) {
	r := newRig()
	txw := platform.NewWire()
	b := New(r.wire.NewPin(1), r.clk, Config{Registry: r.reg, TxEnable: txw.NewPin(3)})
	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	defer b.End()
	if txw.Level() {
		t.Fatalf("tx enable high after Begin")
	}
	b.ForceHold()
	if !txw.Level() || r.wire.Level() != marking {
		t.Fatalf("hold: txen=%v line=%v", txw.Level(), r.wire.Level())
	}
	b.ForceListen()
	if txw.Level() {
		t.Fatalf("tx enable high while listening")
	}
	var sawLow bool
	watcher := r.wire.NewPin(9)
	_ = watcher.SetIRQ(func() {
		if !txw.Level() {
			sawLow = true
		}
	})
	b.SendCommand("0!")
	if sawLow {
		t.Fatalf("tx enable dropped during transmission")
	}
	if txw.Level() {
		t.Fatalf("tx enable high after transmission")
	}
}

func TestForceHold_DisabledPanics(t *testing.T) {
	r := newRig()
	b := New(r.wire.NewPin(1), r.clk, Config{Registry: r.reg})
	e := mustPanic(t, b.ForceHold)
	if e.C != errcode.Disabled {
		t.Fatalf("code=%v", e.C)
	}
}
