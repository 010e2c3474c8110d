package main

import (
	"context"
	"runtime"
	"time"

	"sdi12-go/bus"
	"sdi12-go/services/bridge"
	"sdi12-go/services/config"
	"sdi12-go/services/heartbeat"
	"sdi12-go/services/sdi12"
	"sdi12-go/types"
)

// deviceID selects the embedded config; override with
// -ldflags "-X main.deviceID=pico-minimal".
var deviceID = "pico"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot, device", deviceID)

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, deviceID)
	b := bus.NewBus(8)

	// Services subscribe before config is published; config is retained
	// anyway, so order only affects log noise.
	sdi12.New(b.NewConnection("sdi12")).Start(ctx)
	go bridge.Start(ctx, b.NewConnection("bridge"))
	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	mon := b.NewConnection("main")
	states := mon.Subscribe(bus.T("+", "state"))
	for m := range states.Channel() {
		svc, _ := m.Topic[0].(string)
		if st, ok := m.Payload.(types.ServiceState); ok {
			println("[main]", svc, string(st.Level), st.Status, st.Error)
		}
		printMem()
	}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
