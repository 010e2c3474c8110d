package bridge

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"sdi12-go/bus"
	"sdi12-go/errcode"
	"sdi12-go/services/bridge/link"
	"sdi12-go/types"
)

// dialPipe swaps UARTDial for one returning net.Pipe ends. The far ends
// arrive on the returned channel.
func dialPipe(t *testing.T) <-chan net.Conn {
	t.Helper()
	prev := UARTDial
	t.Cleanup(func() { UARTDial = prev })
	remotes := make(chan net.Conn, 4)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		remotes <- rc
		return lc, nil
	}
	return remotes
}

func startBridge(t *testing.T) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Start(ctx, conn)

	stateSub := conn.Subscribe(topicState)
	t.Cleanup(func() { conn.Unsubscribe(stateSub) })
	assertState(t, nextState(t, stateSub, 500*time.Millisecond), types.LevelIdle, "awaiting_config")
	return conn, stateSub
}

const uartCfg = `{"transport":{"type":"uart","uart":{"index":0,"baud":115200,"rx_pin":1,"tx_pin":0}}}`

func TestBridge_EstablishesLinkAndReportsLoss(t *testing.T) {
	remotes := dialPipe(t)
	conn, stateSub := startBridge(t)

	conn.Publish(conn.NewMessage(topicConfig, uartCfg, false))
	assertState(t, nextState(t, stateSub, time.Second), types.LevelUp, "link_established")

	remote := <-remotes
	_ = remote.Close()
	assertState(t, nextState(t, stateSub, time.Second), types.LevelDegraded, "link_lost_retrying")
}

func TestBridge_AnswersPing(t *testing.T) {
	remotes := dialPipe(t)
	conn, stateSub := startBridge(t)

	conn.Publish(conn.NewMessage(topicConfig, uartCfg, false))
	assertState(t, nextState(t, stateSub, time.Second), types.LevelUp, "link_established")
	remote := <-remotes
	defer remote.Close()

	go func() { _ = link.NewWriter(remote).WriteFrame(link.Frame{Type: link.Ping}) }()
	f := readFrame(t, link.NewReader(remote), link.Pong)
	if len(f.Payload) != 0 {
		t.Fatalf("pong payload: % x", f.Payload)
	}
}

func TestBridge_ForwardsCommandToBus(t *testing.T) {
	remotes := dialPipe(t)
	conn, stateSub := startBridge(t)

	// Stand in for the sdi12 service on bus sdi0.
	var mu sync.Mutex
	var seen types.SDI12Command
	cmdSub := conn.Subscribe(bus.T("sdi12", "sdi0", "cmd"))
	defer conn.Unsubscribe(cmdSub)
	go func() {
		for m := range cmdSub.Channel() {
			c := m.Payload.(types.SDI12Command)
			mu.Lock()
			seen = c
			mu.Unlock()
			conn.Reply(m, types.SDI12Reply{Bus: "sdi0", Command: c.Command, Response: "013ACME\r\n"}, false)
		}
	}()

	conn.Publish(conn.NewMessage(topicConfig, uartCfg, false))
	assertState(t, nextState(t, stateSub, time.Second), types.LevelUp, "link_established")
	remote := <-remotes
	defer remote.Close()

	go func() {
		_ = link.NewWriter(remote).WriteFrame(link.EncodeCommand(link.CommandMsg{
			Seq: 42, Bus: "sdi0", Command: "0I!", TimeoutMs: 300,
		}))
	}()
	rep, err := link.DecodeReply(readFrame(t, link.NewReader(remote), link.Reply))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if rep.Seq != 42 || rep.Code != errcode.OK || rep.Response != "013ACME\r\n" {
		t.Fatalf("reply: %+v", rep)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen.Command != "0I!" || !seen.WakeOrDefault() || seen.TimeoutMs != 300 {
		t.Fatalf("forwarded command: %+v", seen)
	}
}

func TestBridge_CommandErrorCodePassesThrough(t *testing.T) {
	remotes := dialPipe(t)
	conn, stateSub := startBridge(t)

	cmdSub := conn.Subscribe(bus.T("sdi12", "sdi1", "cmd"))
	defer conn.Unsubscribe(cmdSub)
	go func() {
		for m := range cmdSub.Channel() {
			conn.Reply(m, types.SDI12Reply{Bus: "sdi1", Error: string(errcode.NoResponse)}, false)
		}
	}()

	conn.Publish(conn.NewMessage(topicConfig, uartCfg, false))
	assertState(t, nextState(t, stateSub, time.Second), types.LevelUp, "link_established")
	remote := <-remotes
	defer remote.Close()

	go func() {
		_ = link.NewWriter(remote).WriteFrame(link.EncodeCommand(link.CommandMsg{
			Seq: 1, Bus: "sdi1", Command: "1M!", NoWake: true,
		}))
	}()
	rep, _ := link.DecodeReply(readFrame(t, link.NewReader(remote), link.Reply))
	if rep.Seq != 1 || rep.Code != errcode.NoResponse {
		t.Fatalf("reply: %+v", rep)
	}
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	conn, stateSub := startBridge(t)

	conn.Publish(conn.NewMessage(topicConfig, `{"transport":{"type":"bogus"}}`, false))
	st := nextState(t, stateSub, time.Second)
	assertState(t, st, types.LevelError, "transport_init_failed")
	if st.Error == "" {
		t.Fatalf("expected error detail")
	}
}

func TestBridge_BadConfig(t *testing.T) {
	conn, stateSub := startBridge(t)

	conn.Publish(conn.NewMessage(topicConfig, `{"transport":`, false))
	assertState(t, nextState(t, stateSub, time.Second), types.LevelError, "config_decode_failed")
}

func TestBackoffSeq(t *testing.T) {
	next := backoffSeq(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		if got := next(); got != w*time.Millisecond {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// readFrame returns the first frame of type typ, skipping keepalives.
func readFrame(t *testing.T, r *link.Reader, typ byte) link.Frame {
	t.Helper()
	type result struct {
		f   link.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			f, err := r.ReadFrame()
			if err != nil || f.Type == typ {
				ch <- result{f, err}
				return
			}
		}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read frame: %v", res.err)
		}
		return res.f
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame 0x%02x", typ)
		return link.Frame{}
	}
}

func nextState(t *testing.T, sub *bus.Subscription, d time.Duration) types.ServiceState {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("state payload type: got %T", m.Payload)
		}
		return st
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return types.ServiceState{}
	}
}

func assertState(t *testing.T, st types.ServiceState, level types.Level, status string) {
	t.Helper()
	if st.Level != level || st.Status != status {
		t.Fatalf("state: level=%q status=%q, want level=%q status=%q (err=%q)",
			st.Level, st.Status, level, status, st.Error)
	}
}
