// Package heartbeat prints and publishes a periodic liveness message,
// optionally carrying the SDI-12 bus counters.
package heartbeat

import (
	"context"
	"time"

	"sdi12-go/bus"
	"sdi12-go/types"
	"sdi12-go/x/jsonx"
	"sdi12-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("heartbeat")
	topicSDI12Stats      = bus.T("sdi12", "stats")
)

const (
	defaultInterval = 10 * time.Second
	minInterval     = 100 * time.Millisecond
	statsWait       = 500 * time.Millisecond
)

type Service struct {
	interval time.Duration
	stats    bool
	seq      uint32
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case t := <-tick.C:
			s.beat(ctx, conn, t)
		case msg := <-cfgSub.Channel():
			var cfg types.HeartbeatConfig
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				println("[heartbeat] bad config:", err.Error())
				continue
			}
			s.stats = cfg.Stats
			if iv := time.Duration(cfg.Interval * float64(time.Second)); iv > 0 {
				if iv < minInterval {
					iv = minInterval
				}
				s.interval = iv
				tick.Reset(iv)
				println("Info: heartbeat interval set to", iv.String())
			}
		}
	}
}

func (s *Service) beat(ctx context.Context, conn *bus.Connection, t time.Time) {
	s.seq++
	hb := types.Heartbeat{Seq: s.seq, TS: timex.NowMs()}
	println("Info:", t.Format("15:04:05"), "Heartbeat")

	if s.stats {
		rctx, cancel := context.WithTimeout(ctx, statsWait)
		m, err := conn.RequestWait(rctx, conn.NewMessage(topicSDI12Stats, nil, false))
		cancel()
		if err == nil {
			_ = jsonx.Decode(m.Payload, &hb.Stats)
		}
		for _, st := range hb.Stats {
			println("  ", st.Bus, "rx", st.Received, "tx", st.Sent,
				"ovf", st.Overflows, "par", st.ParityErrors, "frm", st.FramingErrors,
				"txn", st.Transactions, "nr", st.NoResponse)
		}
	}
	conn.Publish(conn.NewMessage(topicHeartbeat, hb, false))
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
