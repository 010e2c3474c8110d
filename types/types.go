package types

// ---- Common service state (retained) ----

// Level is the coarse health of a service or link.
type Level string

const (
	LevelIdle     Level = "idle"
	LevelUp       Level = "up"
	LevelDegraded Level = "degraded"
	LevelError    Level = "error"
)

type ServiceState struct {
	Level  Level  `json:"level"`
	Status string `json:"status"` // short machine string
	TS     int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// Heartbeat is published on "heartbeat" each interval.
type Heartbeat struct {
	Seq   uint32       `json:"seq"`
	TS    int64        `json:"ts_ms"`
	Stats []SDI12Stats `json:"stats,omitempty"`
}
