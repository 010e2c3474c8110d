//go:build rp2040 || rp2350

// sdi12-scan queries every SDI-12 address on one bus, identifies the sensors
// that answer and takes one measurement from each.
package main

import (
	"context"
	"time"

	drv "sdi12-go/drivers/sdi12"
	"sdi12-go/platform"
)

// ---------- Configuration ----------

const (
	dataPin     = 10
	txEnablePin = 3

	replyTimeout = 150 * time.Millisecond
	scanPause    = 30 * time.Second
)

const addresses = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func main() {
	time.Sleep(2 * time.Second)
	println("[scan] starting on GP", dataPin)

	pins := platform.DefaultPinFactory()
	pin, ok := pins.ByNumber(dataPin)
	if !ok {
		println("[scan] no such pin")
		return
	}
	txEn, _ := pins.ByNumber(txEnablePin)

	b := drv.New(pin, platform.DefaultClock(), drv.Config{TxEnable: txEn})
	if err := b.Begin(); err != nil {
		println("[scan] begin failed:", err.Error())
		return
	}
	b.ForceListen()

	for {
		var found []byte
		for i := 0; i < len(addresses); i++ {
			a := addresses[i]
			if r := transact(b, string(a)+"!"); len(r) > 0 && r[0] == a {
				found = append(found, a)
				println("[scan]", string(a), "id:", string(trimCRLF(transact(b, string(a)+"I!"))))
			}
		}
		println("[scan] sensors found:", len(found))

		for _, a := range found {
			measure(b, a)
		}
		st := b.Stats()
		println("[scan] rx", st.Received, "tx", st.Sent, "parity", st.ParityErrors,
			"framing", st.FramingErrors, "overflows", st.Overflows)
		time.Sleep(scanPause)
	}
}

// transact sends cmd with a wake and returns the reply up to CR LF, or what
// arrived before the reply timeout.
func transact(b *drv.Bus, cmd string) []byte {
	b.ClearBuffer()
	b.SendCommand(cmd)
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	var out []byte
	for {
		c, err := b.ReadByteContext(ctx)
		if err != nil {
			return out
		}
		out = append(out, c)
		if n := len(out); n >= 2 && out[n-2] == '\r' && out[n-1] == '\n' {
			return out
		}
	}
}

// measure runs aM! then aD0! and prints the values.
func measure(b *drv.Bus, a byte) {
	// Reply: a ttt n CR LF
	r := transact(b, string(a)+"M!")
	if len(r) < 5 || r[0] != a {
		println("[scan]", string(a), "no measurement reply")
		return
	}
	wait := int(r[1]-'0')*100 + int(r[2]-'0')*10 + int(r[3]-'0')
	n := int(r[4] - '0')
	if wait > 0 {
		// The sensor sends its address when ready; give up after ttt s.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(wait)*time.Second)
		_, _ = b.ReadByteContext(ctx)
		cancel()
	}

	b.ClearBuffer()
	b.SendCommand(string(a) + "D0!")
	if c, err := waitByte(b); err != nil || c != a {
		println("[scan]", string(a), "no data reply")
		return
	}
	for i := 0; i < n; i++ {
		v := b.ParseFloat(drv.SkipAll, drv.NoIgnore)
		if int64(v) == b.TimeoutValue() {
			println("[scan]", string(a), "value", i, "timed out")
			return
		}
		println("[scan]", string(a), "value", i, "=", v)
	}
}

func waitByte(b *drv.Bus) (byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	return b.ReadByteContext(ctx)
}

func trimCRLF(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
