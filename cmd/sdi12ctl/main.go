// sdi12ctl sends SDI-12 commands to a device running the bridge and prints
// the replies. Commands come from the arguments, or one per line on stdin.
//
//	sdi12ctl -port /dev/ttyACM0 -bus sdi0 0I! 0M! 0D0!
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.bug.st/serial"

	"sdi12-go/internal/hostlink"
	"sdi12-go/services/bridge/link"
	"sdi12-go/x/mathx"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.String("port", "", "Override serial port")
	busName := flag.String("bus", "", "Override SDI-12 bus name")
	timeout := flag.Int("timeout", 0, "Override per-command timeout (ms)")
	flag.Parse()

	log.SetFlags(log.Ltime)
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[sdi12ctl] config: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *busName != "" {
		cfg.Bus = *busName
	}
	if *timeout > 0 {
		cfg.TimeoutMs = *timeout
	}

	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		log.Fatalf("[sdi12ctl] open %s: %v", cfg.Port, err)
	}
	defer p.Close()
	log.Printf("[sdi12ctl] opened %s at %d baud", cfg.Port, cfg.Baud)

	c := hostlink.NewClient(p)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.wait())
	err = c.Ping(ctx)
	cancel()
	if err != nil {
		log.Fatalf("[sdi12ctl] device not answering: %v", err)
	}

	run := func(cmd string) {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.wait())
		defer cancel()
		r, err := c.Do(ctx, link.CommandMsg{
			Bus:       cfg.Bus,
			Command:   cmd,
			NoWake:    cfg.NoWake,
			TimeoutMs: uint16(mathx.Clamp(cfg.TimeoutMs, 0, 0xFFFF)),
		})
		if err != nil {
			fmt.Printf("%s\t%q\terror=%v\n", cmd, r.Response, err)
			return
		}
		fmt.Printf("%s\t%q\n", cmd, r.Response)
	}

	if flag.NArg() > 0 {
		for _, cmd := range flag.Args() {
			run(cmd)
		}
		return
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		run(sc.Text())
	}
}
